package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// DescriptorSetLayout is a registry-tracked descriptor set layout.
type DescriptorSetLayout struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	layout core1_0.DescriptorSetLayout
}

// CreateDescriptorSetLayout creates a descriptor set layout as a child of the
// device.
func CreateDescriptorSetLayout(logger *slog.Logger, logicalDevice *device.LogicalDevice, name string, bindings []core1_0.DescriptorSetLayoutBinding) (*DescriptorSetLayout, error) {
	logger.Debug("DescriptorSetLayout::Create")

	layout, _, err := logicalDevice.Handle().CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create descriptor set layout %s", name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindDescriptorSetLayout, name, func() {
		layout.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		layout.Destroy(nil)
		return nil, err
	}

	return &DescriptorSetLayout{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		layout: layout,
	}, nil
}

// Handle returns the underlying vkngwrapper descriptor set layout.
func (d *DescriptorSetLayout) Handle() core1_0.DescriptorSetLayout {
	return d.layout
}

func (d *DescriptorSetLayout) ID() registry.ID {
	return d.id
}

// Destroy releases the native descriptor set layout. It fails while a
// pipeline layout built from it is still alive.
func (d *DescriptorSetLayout) Destroy() error {
	d.logger.Debug("DescriptorSetLayout::Destroy")

	return d.registry.Destroy(d.id)
}

// LayoutOptions describes a pipeline layout to create.
type LayoutOptions struct {
	Name string

	SetLayouts         []*DescriptorSetLayout
	PushConstantRanges []core1_0.PushConstantRange
}

// PipelineLayout is a registry-tracked pipeline layout.
type PipelineLayout struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	layout core1_0.PipelineLayout
}

// CreatePipelineLayout creates a pipeline layout as a child of the device and
// of every descriptor set layout it names.
func CreatePipelineLayout(logger *slog.Logger, logicalDevice *device.LogicalDevice, options LayoutOptions) (*PipelineLayout, error) {
	logger.Debug("PipelineLayout::Create")

	setLayouts := make([]core1_0.DescriptorSetLayout, 0, len(options.SetLayouts))
	dependsOn := []registry.ID{logicalDevice.ID()}
	for _, setLayout := range options.SetLayouts {
		setLayouts = append(setLayouts, setLayout.Handle())
		dependsOn = append(dependsOn, setLayout.ID())
	}

	layout, _, err := logicalDevice.Handle().CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts:         setLayouts,
		PushConstantRanges: options.PushConstantRanges,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create pipeline layout %s", options.Name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindPipelineLayout, options.Name, func() {
		layout.Destroy(nil)
	}, dependsOn...)
	if err != nil {
		layout.Destroy(nil)
		return nil, err
	}

	return &PipelineLayout{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		layout: layout,
	}, nil
}

// Handle returns the underlying vkngwrapper pipeline layout.
func (p *PipelineLayout) Handle() core1_0.PipelineLayout {
	return p.layout
}

func (p *PipelineLayout) ID() registry.ID {
	return p.id
}

// Destroy releases the native pipeline layout. It fails while a pipeline
// built from it is still alive.
func (p *PipelineLayout) Destroy() error {
	p.logger.Debug("PipelineLayout::Destroy")

	return p.registry.Destroy(p.id)
}
