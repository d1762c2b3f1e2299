package hwinfo

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// QueueFamilyInfo is a read-only description of one queue family reported by a
// physical device.
type QueueFamilyInfo struct {
	Index      int
	QueueCount int
	Flags      core1_0.QueueFlags
}

func (q QueueFamilyInfo) IsGraphics() bool {
	return q.Flags&core1_0.QueueGraphics != 0
}

func (q QueueFamilyInfo) IsCompute() bool {
	return q.Flags&core1_0.QueueCompute != 0
}

func (q QueueFamilyInfo) IsTransfer() bool {
	return q.Flags&core1_0.QueueTransfer != 0
}

// MemoryTypeInfo is a read-only description of one memory type reported by a
// physical device.
type MemoryTypeInfo struct {
	Index     int
	HeapIndex int
	HeapSize  int
	Flags     core1_0.MemoryPropertyFlags
}

// IsCompatible reports whether this memory type carries every property in flags.
func (m MemoryTypeInfo) IsCompatible(flags core1_0.MemoryPropertyFlags) bool {
	return m.Flags&flags == flags
}

func (m MemoryTypeInfo) IsDeviceLocal() bool {
	return m.Flags&core1_0.MemoryPropertyDeviceLocal != 0
}

func (m MemoryTypeInfo) IsHostVisible() bool {
	return m.Flags&core1_0.MemoryPropertyHostVisible != 0
}

func (m MemoryTypeInfo) IsHostCoherent() bool {
	return m.Flags&core1_0.MemoryPropertyHostCoherent != 0
}

// DeviceInfo is an immutable snapshot of one physical device's driver-reported
// capabilities. It is not an owned handle: it references driver data and needs
// no destruction.
type DeviceInfo struct {
	physicalDevice   core1_0.PhysicalDevice
	properties       *core1_0.PhysicalDeviceProperties
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	features         *core1_0.PhysicalDeviceFeatures

	queueFamilies []QueueFamilyInfo
	memoryTypes   []MemoryTypeInfo
}

// Collect snapshots the capabilities of every physical device the instance can
// see, in driver-reported order. No sorting or scoring is applied.
func Collect(instance core1_0.Instance) ([]*DeviceInfo, error) {
	physicalDevices, _, err := instance.EnumeratePhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate physical devices")
	}

	infos := make([]*DeviceInfo, 0, len(physicalDevices))
	for _, physicalDevice := range physicalDevices {
		info, err := CollectOne(physicalDevice)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// CollectOne snapshots the capabilities of a single physical device.
func CollectOne(physicalDevice core1_0.PhysicalDevice) (*DeviceInfo, error) {
	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "failed to query physical device properties")
	}

	info := &DeviceInfo{
		physicalDevice:   physicalDevice,
		properties:       properties,
		memoryProperties: physicalDevice.MemoryProperties(),
		features:         physicalDevice.Features(),
	}

	for familyIndex, family := range physicalDevice.QueueFamilyProperties() {
		info.queueFamilies = append(info.queueFamilies, QueueFamilyInfo{
			Index:      familyIndex,
			QueueCount: family.QueueCount,
			Flags:      family.QueueFlags,
		})
	}

	for typeIndex, memoryType := range info.memoryProperties.MemoryTypes {
		heap := info.memoryProperties.MemoryHeaps[memoryType.HeapIndex]
		info.memoryTypes = append(info.memoryTypes, MemoryTypeInfo{
			Index:     typeIndex,
			HeapIndex: memoryType.HeapIndex,
			HeapSize:  heap.Size,
			Flags:     memoryType.PropertyFlags,
		})
	}

	return info, nil
}

// PhysicalDevice returns the underlying vkngwrapper handle.
func (i *DeviceInfo) PhysicalDevice() core1_0.PhysicalDevice {
	return i.physicalDevice
}

func (i *DeviceInfo) Name() string {
	return i.properties.DriverName
}

func (i *DeviceInfo) APIVersion() common.APIVersion {
	return i.properties.APIVersion
}

func (i *DeviceInfo) Properties() *core1_0.PhysicalDeviceProperties {
	return i.properties
}

func (i *DeviceInfo) Features() *core1_0.PhysicalDeviceFeatures {
	return i.features
}

func (i *DeviceInfo) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return i.memoryProperties
}

func (i *DeviceInfo) IsDiscreteGPU() bool {
	return i.properties.DriverType == core1_0.PhysicalDeviceTypeDiscreteGPU
}

func (i *DeviceInfo) IsIntegratedGPU() bool {
	return i.properties.DriverType == core1_0.PhysicalDeviceTypeIntegratedGPU
}

// QueueFamilies returns the device's queue families in driver-reported order.
func (i *DeviceInfo) QueueFamilies() []QueueFamilyInfo {
	return i.queueFamilies
}

// MemoryTypes returns the device's memory types in driver-reported order.
func (i *DeviceInfo) MemoryTypes() []MemoryTypeInfo {
	return i.memoryTypes
}

// FindFirstQueueFamily returns the first queue family satisfying the predicate,
// or ok=false when none does.
func (i *DeviceInfo) FindFirstQueueFamily(predicate func(QueueFamilyInfo) bool) (QueueFamilyInfo, bool) {
	for _, family := range i.queueFamilies {
		if predicate(family) {
			return family, true
		}
	}
	return QueueFamilyInfo{}, false
}

// FindFirstMemoryType returns the first memory type satisfying the predicate,
// or ok=false when none does.
func (i *DeviceInfo) FindFirstMemoryType(predicate func(MemoryTypeInfo) bool) (MemoryTypeInfo, bool) {
	for _, memoryType := range i.memoryTypes {
		if predicate(memoryType) {
			return memoryType, true
		}
	}
	return MemoryTypeInfo{}, false
}
