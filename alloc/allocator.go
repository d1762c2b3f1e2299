package alloc

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/hwinfo"
	"github.com/vkngwrapper/foundry/internal/vkutil"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// NoSuitableMemoryTypeError is the error returned when no memory type on the
// device satisfies both the resource's type bitmask and the requested
// property flags
var NoSuitableMemoryTypeError error = errors.New("no memory type satisfies the request")

// NotHostVisibleError is the error returned from map and flush operations on
// memory that was not allocated from a host-visible type
var NotHostVisibleError error = errors.New("memory is not host-visible")

// AlreadyBoundError is the error returned when binding a resource that has
// already been bound- rebinding is not permitted by the native API
var AlreadyBoundError error = errors.New("resource is already bound to memory")

// SizeMismatchError is the error returned when a memory block is too small
// for the resource being bound to it
var SizeMismatchError error = errors.New("memory block is smaller than the resource requires")

// WrongMemoryTypeError is the error returned when a memory block's type index
// is not accepted by the resource's memory requirements
var WrongMemoryTypeError error = errors.New("memory block type is not usable by this resource")

// AllocateOptions describes a single device-memory allocation request.
type AllocateOptions struct {
	// Name identifies the block in registry statistics and log output
	Name string
	// Size is the requested allocation size in bytes
	Size int
	// TypeBits restricts the allocation to memory types whose index bit is
	// set, usually taken from MemoryRequirements.MemoryTypeBits
	TypeBits uint32
	// Required is the set of property flags every candidate type must carry
	Required core1_0.MemoryPropertyFlags
}

// Allocator creates device memory, buffers, and images for a single logical
// device and registers every native handle it produces.
//
// Each Allocate call performs one native allocation. Sub-allocating many
// resources out of larger blocks is out of scope for this package; callers
// that need pooling should allocate large blocks and manage offsets
// themselves.
type Allocator struct {
	logger   *slog.Logger
	registry *registry.Registry
	device   *device.LogicalDevice
	info     *hwinfo.DeviceInfo

	allocationCount atomic.Int32
}

// New creates an Allocator bound to logicalDevice. Handles it creates are
// registered as children of the device in the device's registry.
//
// The device's NonCoherentAtomSize must be a power of two: the flush range
// widening in MemoryBlock.Flush is bitmask arithmetic over it.
func New(logger *slog.Logger, logicalDevice *device.LogicalDevice) (*Allocator, error) {
	atomSize := logicalDevice.Info().Properties().Limits.NonCoherentAtomSize
	err := vkutil.CheckPow2(atomSize, "NonCoherentAtomSize")
	if err != nil {
		return nil, err
	}

	return &Allocator{
		logger:   logger,
		registry: logicalDevice.Registry(),
		device:   logicalDevice,
		info:     logicalDevice.Info(),
	}, nil
}

// FindMemoryTypeIndex returns the first memory type index whose bit is set in
// typeBits and whose property flags are a superset of required. Driver order
// is meaningful- drivers list faster types first, so the first match is kept.
func (a *Allocator) FindMemoryTypeIndex(typeBits uint32, required core1_0.MemoryPropertyFlags) (int, error) {
	for _, memoryType := range a.info.MemoryTypes() {
		if typeBits&(1<<uint32(memoryType.Index)) == 0 {
			continue
		}
		if memoryType.IsCompatible(required) {
			return memoryType.Index, nil
		}
	}

	return -1, errors.Wrapf(NoSuitableMemoryTypeError, "typeBits %#08x with properties %s", typeBits, required)
}

// Allocate performs a single native memory allocation and returns the block.
// The block depends on the logical device and must be destroyed (directly or
// through a cascade) before it.
func (a *Allocator) Allocate(options AllocateOptions) (block *MemoryBlock, err error) {
	a.logger.Debug("Allocator::Allocate")

	typeIndex, err := a.FindMemoryTypeIndex(options.TypeBits, options.Required)
	if err != nil {
		return nil, err
	}

	newCount := a.allocationCount.Add(1)
	defer func() {
		// If we failed out, roll back the device increment
		if err != nil {
			a.allocationCount.Add(-1)
		}
	}()
	if int(newCount) > a.info.Properties().Limits.MaxMemoryAllocationCount {
		return nil, core1_0.VKErrorTooManyObjects.ToError()
	}

	memory, _, err := a.device.Handle().AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  options.Size,
		MemoryTypeIndex: typeIndex,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d bytes of memory type %d", options.Size, typeIndex)
	}

	id, err := a.registry.Register(registry.KindMemory, options.Name, func() {
		memory.Free(nil)
		a.allocationCount.Add(-1)
	}, a.device.ID())
	if err != nil {
		memory.Free(nil)
		return nil, err
	}

	memoryType := a.info.MemoryTypes()[typeIndex]

	return &MemoryBlock{
		logger:   a.logger,
		registry: a.registry,
		id:       id,

		device:              a.device.Handle(),
		memory:              memory,
		size:                options.Size,
		typeIndex:           typeIndex,
		propertyFlags:       memoryType.Flags,
		nonCoherentAtomSize: a.info.Properties().Limits.NonCoherentAtomSize,
	}, nil
}

// Bind attaches a resource to a block at offset 0. The block must be at least
// as large as the resource requires, and its memory type must be accepted by
// the resource's requirements. Binding does not transfer ownership of the
// block: destroying the resource leaves the block alive, but the registry
// refuses to destroy the block while the resource remains.
func (a *Allocator) Bind(block *MemoryBlock, resource Resource) error {
	a.logger.Debug("Allocator::Bind")

	requirements := resource.MemoryRequirements()

	if resource.boundBlock() != nil {
		return errors.Wrapf(AlreadyBoundError, "handle %d", resource.ID())
	}
	if requirements.MemoryTypeBits&(1<<uint32(block.TypeIndex())) == 0 {
		return errors.Wrapf(WrongMemoryTypeError, "block type %d, resource accepts %#08x", block.TypeIndex(), requirements.MemoryTypeBits)
	}
	if block.Size() < requirements.Size {
		return errors.Wrapf(SizeMismatchError, "block is %d bytes, resource requires %d", block.Size(), requirements.Size)
	}

	_, err := resource.bindMemory(block)
	if err != nil {
		return errors.Wrap(err, "failed to bind resource memory")
	}

	return a.registry.AddDependency(resource.ID(), block.ID())
}

// AllocateForBuffer allocates a dedicated block sized to the buffer's
// requirements and binds it. This is the common create-allocate-bind flow for
// simple buffers.
func (a *Allocator) AllocateForBuffer(buffer *Buffer, required core1_0.MemoryPropertyFlags) (*MemoryBlock, error) {
	a.logger.Debug("Allocator::AllocateForBuffer")

	return a.allocateAndBind(buffer, required)
}

// AllocateForImage allocates a dedicated block sized to the image's
// requirements and binds it.
func (a *Allocator) AllocateForImage(image *Image, required core1_0.MemoryPropertyFlags) (*MemoryBlock, error) {
	a.logger.Debug("Allocator::AllocateForImage")

	return a.allocateAndBind(image, required)
}

func (a *Allocator) allocateAndBind(resource Resource, required core1_0.MemoryPropertyFlags) (*MemoryBlock, error) {
	requirements := resource.MemoryRequirements()

	block, err := a.Allocate(AllocateOptions{
		Name:     resource.name(),
		Size:     requirements.Size,
		TypeBits: requirements.MemoryTypeBits,
		Required: required,
	})
	if err != nil {
		return nil, err
	}

	err = a.Bind(block, resource)
	if err != nil {
		destroyErr := block.Destroy()
		if destroyErr != nil {
			a.logger.Error("failed to release memory block after bind failure", slog.Any("error", destroyErr))
		}
		return nil, err
	}

	return block, nil
}
