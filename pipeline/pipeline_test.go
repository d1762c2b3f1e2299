package pipeline

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	mock_driver "github.com/vkngwrapper/core/v2/driver/mocks"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/hwinfo"
	"github.com/vkngwrapper/foundry/registry"
	"github.com/golang/mock/gomock"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func readyDevice(t *testing.T, ctrl *gomock.Controller) (*device.LogicalDevice, *mocks.MockDevice) {
	reg := registry.New(testLogger(), false)

	instance, err := device.WrapInstance(testLogger(), reg, mocks.EasyMockInstance(ctrl, mock_driver.DriverForVersion(ctrl, common.Vulkan1_0)))
	require.NoError(t, err)

	physicalDevice := mocks.EasyMockPhysicalDevice(ctrl, mock_driver.DriverForVersion(ctrl, common.Vulkan1_0))
	physicalDevice.EXPECT().Properties().Return(&core1_0.PhysicalDeviceProperties{
		DriverName: "mock gpu",
		DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
		Limits: &core1_0.PhysicalDeviceLimits{
			NonCoherentAtomSize:      1,
			MaxMemoryAllocationCount: 4096,
		},
	}, nil)
	physicalDevice.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: 1000000, Flags: core1_0.MemoryHeapDeviceLocal},
		},
	})
	physicalDevice.EXPECT().Features().Return(&core1_0.PhysicalDeviceFeatures{})
	physicalDevice.EXPECT().QueueFamilyProperties().Return([]*core1_0.QueueFamilyProperties{
		{QueueFlags: core1_0.QueueGraphics, QueueCount: 1},
	})

	coreDevice := mocks.EasyMockDevice(ctrl, mock_driver.DriverForVersion(ctrl, common.Vulkan1_0))
	physicalDevice.EXPECT().CreateDevice(gomock.Nil(), core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{},
	}).Return(coreDevice, core1_0.VKSuccess, nil)

	info, err := hwinfo.CollectOne(physicalDevice)
	require.NoError(t, err)

	logicalDevice, err := device.CreateLogicalDevice(testLogger(), reg, instance, info, device.CreateOptions{})
	require.NoError(t, err)

	return logicalDevice, coreDevice
}

func TestCreateShaderModuleRejectsUnalignedByteCode(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logicalDevice, _ := readyDevice(t, ctrl)

	// No native expectation: the length check fails first.
	_, err := CreateShaderModule(testLogger(), logicalDevice, "vert", []byte{1, 2, 3, 4, 5})
	require.ErrorIs(t, err, InvalidShaderSizeError)

	_, err = CreateShaderModule(testLogger(), logicalDevice, "empty", nil)
	require.ErrorIs(t, err, InvalidShaderSizeError)
}

func TestCreateShaderModuleRepacksWordsLittleEndian(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logicalDevice, coreDevice := readyDevice(t, ctrl)

	shaderModule := mocks.EasyMockShaderModule(ctrl)
	coreDevice.EXPECT().CreateShaderModule(gomock.Nil(), core1_0.ShaderModuleCreateInfo{
		Code: []uint32{0x04030201, 0xddccbbaa},
	}).Return(shaderModule, core1_0.VKSuccess, nil)

	module, err := CreateShaderModule(testLogger(), logicalDevice, "vert",
		[]byte{0x01, 0x02, 0x03, 0x04, 0xaa, 0xbb, 0xcc, 0xdd})
	require.NoError(t, err)

	shaderModule.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, module.Destroy())
}

func TestGraphicsPipelineLifecycleAndRecreate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logicalDevice, coreDevice := readyDevice(t, ctrl)

	coreSetLayout := mocks.EasyMockDescriptorSetLayout(ctrl)
	coreDevice.EXPECT().CreateDescriptorSetLayout(gomock.Nil(), core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageVertex,
			},
		},
	}).Return(coreSetLayout, core1_0.VKSuccess, nil)

	setLayout, err := CreateDescriptorSetLayout(testLogger(), logicalDevice, "uniforms",
		[]core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageVertex,
			},
		})
	require.NoError(t, err)

	coreLayout := mocks.EasyMockPipelineLayout(ctrl)
	coreDevice.EXPECT().CreatePipelineLayout(gomock.Nil(), core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{coreSetLayout},
	}).Return(coreLayout, core1_0.VKSuccess, nil)

	layout, err := CreatePipelineLayout(testLogger(), logicalDevice, LayoutOptions{
		Name:       "main layout",
		SetLayouts: []*DescriptorSetLayout{setLayout},
	})
	require.NoError(t, err)

	// The set layout is pinned by the pipeline layout.
	err = setLayout.Destroy()
	require.ErrorIs(t, err, registry.DependencyStillAliveError)

	coreRenderPass := mocks.EasyMockRenderPass(ctrl)
	coreDevice.EXPECT().CreateRenderPass(gomock.Nil(), gomock.Any()).Return(coreRenderPass, core1_0.VKSuccess, nil)

	renderPass, err := CreateRenderPass(testLogger(), logicalDevice, RenderPassOptions{
		Name: "forward",
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         core1_0.FormatB8G8R8A8SRGB,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{Attachment: 0, Layout: core1_0.ImageLayoutColorAttachmentOptimal},
				},
			},
		},
	})
	require.NoError(t, err)

	vertModule := mocks.EasyMockShaderModule(ctrl)
	coreDevice.EXPECT().CreateShaderModule(gomock.Nil(), gomock.Any()).Return(vertModule, core1_0.VKSuccess, nil)
	vert, err := CreateShaderModule(testLogger(), logicalDevice, "vert", []byte{1, 2, 3, 4})
	require.NoError(t, err)

	corePipeline := mocks.EasyMockPipeline(ctrl)
	coreDevice.EXPECT().CreateGraphicsPipelines(gomock.Nil(), gomock.Nil(), gomock.Any()).
		Return([]core1_0.Pipeline{corePipeline}, core1_0.VKSuccess, nil).
		Times(2)

	options := GraphicsPipelineOptions{
		Name: "forward opaque",
		Stages: []ShaderStage{
			{Module: vert, Stage: core1_0.StageVertex},
		},
		Layout:     layout,
		RenderPass: renderPass,
	}

	pipeline, err := CreateGraphicsPipeline(testLogger(), logicalDevice, options)
	require.NoError(t, err)
	require.Equal(t, core1_0.PipelineBindPointGraphics, pipeline.BindPoint())

	// Creation order is free, teardown is not: the render pass and layout
	// stay pinned until the pipeline goes away.
	err = renderPass.Destroy()
	require.ErrorIs(t, err, registry.DependencyStillAliveError)
	err = layout.Destroy()
	require.ErrorIs(t, err, registry.DependencyStillAliveError)

	corePipeline.EXPECT().Destroy(gomock.Nil()).Times(2)
	require.NoError(t, pipeline.Destroy())

	// An identical pipeline can be rebuilt from the same inputs.
	pipeline, err = CreateGraphicsPipeline(testLogger(), logicalDevice, options)
	require.NoError(t, err)
	require.NoError(t, pipeline.Destroy())

	vertModule.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, vert.Destroy())
	coreRenderPass.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, renderPass.Destroy())
	coreLayout.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, layout.Destroy())
	coreSetLayout.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, setLayout.Destroy())
}

func TestComputePipelineDependsOnLayoutOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logicalDevice, coreDevice := readyDevice(t, ctrl)

	coreLayout := mocks.EasyMockPipelineLayout(ctrl)
	coreDevice.EXPECT().CreatePipelineLayout(gomock.Nil(), core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{},
	}).Return(coreLayout, core1_0.VKSuccess, nil)

	layout, err := CreatePipelineLayout(testLogger(), logicalDevice, LayoutOptions{Name: "compute layout"})
	require.NoError(t, err)

	computeModule := mocks.EasyMockShaderModule(ctrl)
	coreDevice.EXPECT().CreateShaderModule(gomock.Nil(), gomock.Any()).Return(computeModule, core1_0.VKSuccess, nil)
	comp, err := CreateShaderModule(testLogger(), logicalDevice, "comp", []byte{1, 2, 3, 4})
	require.NoError(t, err)

	corePipeline := mocks.EasyMockPipeline(ctrl)
	coreDevice.EXPECT().CreateComputePipelines(gomock.Nil(), gomock.Nil(), []core1_0.ComputePipelineCreateInfo{
		{
			Stage: core1_0.PipelineShaderStageCreateInfo{
				Stage:  core1_0.StageCompute,
				Module: computeModule,
				Name:   "main",
			},
			Layout:            coreLayout,
			BasePipelineIndex: -1,
		},
	}).Return([]core1_0.Pipeline{corePipeline}, core1_0.VKSuccess, nil)

	pipeline, err := CreateComputePipeline(testLogger(), logicalDevice, ComputePipelineOptions{
		Name:   "particle sim",
		Stage:  ShaderStage{Module: comp, Stage: core1_0.StageCompute},
		Layout: layout,
	})
	require.NoError(t, err)
	require.Equal(t, core1_0.PipelineBindPointCompute, pipeline.BindPoint())

	// The module is free to go while the pipeline lives.
	computeModule.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, comp.Destroy())

	err = layout.Destroy()
	require.ErrorIs(t, err, registry.DependencyStillAliveError)

	corePipeline.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, pipeline.Destroy())
	coreLayout.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, layout.Destroy())
}
