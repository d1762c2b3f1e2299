package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// ShaderStage names one programmable stage of a pipeline. EntryPoint defaults
// to "main" when left empty.
type ShaderStage struct {
	Module     *ShaderModule
	Stage      core1_0.ShaderStageFlags
	EntryPoint string
}

func (s ShaderStage) createInfo() core1_0.PipelineShaderStageCreateInfo {
	entryPoint := s.EntryPoint
	if entryPoint == "" {
		entryPoint = "main"
	}

	return core1_0.PipelineShaderStageCreateInfo{
		Stage:  s.Stage,
		Module: s.Module.Handle(),
		Name:   entryPoint,
	}
}

// GraphicsPipelineOptions is a full description of the fixed-function and
// programmable state of one graphics pipeline. Creation is a pure function of
// these inputs; no pipeline cache is consulted.
type GraphicsPipelineOptions struct {
	Name string

	Stages []ShaderStage

	VertexInput   *core1_0.PipelineVertexInputStateCreateInfo
	InputAssembly *core1_0.PipelineInputAssemblyStateCreateInfo
	Viewport      *core1_0.PipelineViewportStateCreateInfo
	Rasterization *core1_0.PipelineRasterizationStateCreateInfo
	Multisample   *core1_0.PipelineMultisampleStateCreateInfo
	DepthStencil  *core1_0.PipelineDepthStencilStateCreateInfo
	ColorBlend    *core1_0.PipelineColorBlendStateCreateInfo
	DynamicState  *core1_0.PipelineDynamicStateCreateInfo

	Layout     *PipelineLayout
	RenderPass *RenderPass
	Subpass    int
}

// Pipeline is a registry-tracked graphics or compute pipeline.
type Pipeline struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	pipeline  core1_0.Pipeline
	bindPoint core1_0.PipelineBindPoint
}

// CreateGraphicsPipeline creates one graphics pipeline as a child of the
// device, its layout, and its render pass. Shader modules are not
// dependencies: they can be destroyed as soon as this call returns.
func CreateGraphicsPipeline(logger *slog.Logger, logicalDevice *device.LogicalDevice, options GraphicsPipelineOptions) (*Pipeline, error) {
	logger.Debug("Pipeline::CreateGraphics")

	stages := make([]core1_0.PipelineShaderStageCreateInfo, 0, len(options.Stages))
	for _, stage := range options.Stages {
		stages = append(stages, stage.createInfo())
	}

	pipelines, _, err := logicalDevice.Handle().CreateGraphicsPipelines(nil, nil, []core1_0.GraphicsPipelineCreateInfo{
		{
			Stages: stages,

			VertexInputState:   options.VertexInput,
			InputAssemblyState: options.InputAssembly,
			ViewportState:      options.Viewport,
			RasterizationState: options.Rasterization,
			MultisampleState:   options.Multisample,
			DepthStencilState:  options.DepthStencil,
			ColorBlendState:    options.ColorBlend,
			DynamicState:       options.DynamicState,

			Layout:     options.Layout.Handle(),
			RenderPass: options.RenderPass.Handle(),
			Subpass:    options.Subpass,

			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create graphics pipeline %s", options.Name)
	}
	pipeline := pipelines[0]

	id, err := logicalDevice.Registry().Register(registry.KindPipeline, options.Name, func() {
		pipeline.Destroy(nil)
	}, logicalDevice.ID(), options.Layout.ID(), options.RenderPass.ID())
	if err != nil {
		pipeline.Destroy(nil)
		return nil, err
	}

	return &Pipeline{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		pipeline:  pipeline,
		bindPoint: core1_0.PipelineBindPointGraphics,
	}, nil
}

// ComputePipelineOptions describes a compute pipeline: a single compute stage
// and the layout it executes against.
type ComputePipelineOptions struct {
	Name string

	Stage  ShaderStage
	Layout *PipelineLayout
}

// CreateComputePipeline creates one compute pipeline as a child of the device
// and its layout.
func CreateComputePipeline(logger *slog.Logger, logicalDevice *device.LogicalDevice, options ComputePipelineOptions) (*Pipeline, error) {
	logger.Debug("Pipeline::CreateCompute")

	pipelines, _, err := logicalDevice.Handle().CreateComputePipelines(nil, nil, []core1_0.ComputePipelineCreateInfo{
		{
			Stage:  options.Stage.createInfo(),
			Layout: options.Layout.Handle(),

			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create compute pipeline %s", options.Name)
	}
	pipeline := pipelines[0]

	id, err := logicalDevice.Registry().Register(registry.KindPipeline, options.Name, func() {
		pipeline.Destroy(nil)
	}, logicalDevice.ID(), options.Layout.ID())
	if err != nil {
		pipeline.Destroy(nil)
		return nil, err
	}

	return &Pipeline{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		pipeline:  pipeline,
		bindPoint: core1_0.PipelineBindPointCompute,
	}, nil
}

// Handle returns the underlying vkngwrapper pipeline.
func (p *Pipeline) Handle() core1_0.Pipeline {
	return p.pipeline
}

func (p *Pipeline) ID() registry.ID {
	return p.id
}

// BindPoint returns the bind point the pipeline was created for.
func (p *Pipeline) BindPoint() core1_0.PipelineBindPoint {
	return p.bindPoint
}

// Destroy releases the native pipeline.
func (p *Pipeline) Destroy() error {
	p.logger.Debug("Pipeline::Destroy")

	return p.registry.Destroy(p.id)
}
