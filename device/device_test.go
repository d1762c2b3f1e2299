package device

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	mock_driver "github.com/vkngwrapper/core/v2/driver/mocks"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/foundry/hwinfo"
	"github.com/vkngwrapper/foundry/registry"
	"github.com/golang/mock/gomock"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func mockDeviceInfo(t *testing.T, ctrl *gomock.Controller, name string, queueFlags core1_0.QueueFlags, features core1_0.PhysicalDeviceFeatures) (*hwinfo.DeviceInfo, *mocks.MockPhysicalDevice) {
	physicalDevice := mocks.EasyMockPhysicalDevice(ctrl, mock_driver.DriverForVersion(ctrl, common.Vulkan1_0))

	physicalDevice.EXPECT().Properties().Return(&core1_0.PhysicalDeviceProperties{
		DriverName: name,
		DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
		APIVersion: common.Vulkan1_0,
		Limits:     &core1_0.PhysicalDeviceLimits{NonCoherentAtomSize: 1},
	}, nil)
	physicalDevice.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: 1000000, Flags: core1_0.MemoryHeapDeviceLocal},
		},
	})
	featuresCopy := features
	physicalDevice.EXPECT().Features().Return(&featuresCopy)
	physicalDevice.EXPECT().QueueFamilyProperties().Return([]*core1_0.QueueFamilyProperties{
		{QueueFlags: queueFlags, QueueCount: 2},
	})

	info, err := hwinfo.CollectOne(physicalDevice)
	require.NoError(t, err)

	return info, physicalDevice
}

func TestSelectReturnsFirstMatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transferOnly, _ := mockDeviceInfo(t, ctrl, "gpu0", core1_0.QueueTransfer, core1_0.PhysicalDeviceFeatures{})
	graphicsFirst, _ := mockDeviceInfo(t, ctrl, "gpu1", core1_0.QueueGraphics|core1_0.QueueCompute, core1_0.PhysicalDeviceFeatures{})
	graphicsSecond, _ := mockDeviceInfo(t, ctrl, "gpu2", core1_0.QueueGraphics, core1_0.PhysicalDeviceFeatures{})

	selected, err := Select([]*hwinfo.DeviceInfo{transferOnly, graphicsFirst, graphicsSecond}, func(info *hwinfo.DeviceInfo) bool {
		_, ok := info.FindFirstQueueFamily(hwinfo.QueueFamilyInfo.IsGraphics)
		return ok
	})
	require.NoError(t, err)
	require.Equal(t, "gpu1", selected.Name())
}

func TestSelectFailsWhenNoDeviceMatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transferOnly, _ := mockDeviceInfo(t, ctrl, "gpu0", core1_0.QueueTransfer, core1_0.PhysicalDeviceFeatures{})

	_, err := Select([]*hwinfo.DeviceInfo{transferOnly}, func(info *hwinfo.DeviceInfo) bool {
		_, ok := info.FindFirstQueueFamily(hwinfo.QueueFamilyInfo.IsGraphics)
		return ok
	})
	require.ErrorIs(t, err, NoMatchingDeviceError)
}

func TestCreateLogicalDeviceRejectsUnsupportedFeature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg := registry.New(testLogger(), false)
	instance, err := WrapInstance(testLogger(), reg, mocks.EasyMockInstance(ctrl, mock_driver.DriverForVersion(ctrl, common.Vulkan1_0)))
	require.NoError(t, err)

	info, _ := mockDeviceInfo(t, ctrl, "gpu0", core1_0.QueueGraphics, core1_0.PhysicalDeviceFeatures{})

	// No CreateDevice expectation: the feature check must fail before any
	// native call is made.
	_, err = CreateLogicalDevice(testLogger(), reg, instance, info, CreateOptions{
		QueueRequests: []QueueRequest{{FamilyIndex: 0, Priorities: []float32{1.0}}},
		Features:      &core1_0.PhysicalDeviceFeatures{SamplerAnisotropy: true},
	})
	require.ErrorIs(t, err, UnsupportedFeatureError)
	require.ErrorContains(t, err, "SamplerAnisotropy")

	// Only the instance handle is live.
	require.Equal(t, 1, reg.LiveCount())
}

func TestCreateLogicalDeviceRetrievesRequestedQueues(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg := registry.New(testLogger(), false)
	instance, err := WrapInstance(testLogger(), reg, mocks.EasyMockInstance(ctrl, mock_driver.DriverForVersion(ctrl, common.Vulkan1_0)))
	require.NoError(t, err)

	info, physicalDevice := mockDeviceInfo(t, ctrl, "gpu0", core1_0.QueueGraphics, core1_0.PhysicalDeviceFeatures{SamplerAnisotropy: true})

	coreDevice := mocks.EasyMockDevice(ctrl, mock_driver.DriverForVersion(ctrl, common.Vulkan1_0))
	physicalDevice.EXPECT().CreateDevice(gomock.Nil(), core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{QueueFamilyIndex: 0, QueuePriorities: []float32{1.0, 0.5}},
		},
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{SamplerAnisotropy: true},
	}).Return(coreDevice, core1_0.VKSuccess, nil)

	firstQueue := mocks.EasyMockQueue(ctrl)
	secondQueue := mocks.EasyMockQueue(ctrl)
	coreDevice.EXPECT().GetQueue(0, 0).Return(firstQueue)
	coreDevice.EXPECT().GetQueue(0, 1).Return(secondQueue)

	logicalDevice, err := CreateLogicalDevice(testLogger(), reg, instance, info, CreateOptions{
		QueueRequests: []QueueRequest{{FamilyIndex: 0, Priorities: []float32{1.0, 0.5}}},
		Features:      &core1_0.PhysicalDeviceFeatures{SamplerAnisotropy: true},
	})
	require.NoError(t, err)

	require.Len(t, logicalDevice.Queues(), 2)
	require.Equal(t, firstQueue, logicalDevice.Queue(0, 0).Handle())
	require.Equal(t, secondQueue, logicalDevice.Queue(0, 1).Handle())
	require.Nil(t, logicalDevice.Queue(1, 0))

	// Destroying the instance must be refused while the device is live.
	err = instance.Destroy()
	require.ErrorIs(t, err, registry.DependencyStillAliveError)

	coreDevice.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, logicalDevice.Destroy())
	require.NoError(t, instance.Destroy())
}
