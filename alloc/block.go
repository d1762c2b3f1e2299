package alloc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/internal/vkutil"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// MemoryBlock is a single native device-memory allocation. Size, type index,
// and property flags are fixed for the block's lifetime.
type MemoryBlock struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	device core1_0.Device
	memory core1_0.DeviceMemory

	size                int
	typeIndex           int
	propertyFlags       core1_0.MemoryPropertyFlags
	nonCoherentAtomSize int

	mapData unsafe.Pointer
}

// Handle returns the underlying vkngwrapper device memory.
func (b *MemoryBlock) Handle() core1_0.DeviceMemory {
	return b.memory
}

func (b *MemoryBlock) ID() registry.ID {
	return b.id
}

// Size returns the size of the block in bytes, as requested at allocation.
func (b *MemoryBlock) Size() int {
	return b.size
}

// TypeIndex returns the memory type index this block was allocated from.
func (b *MemoryBlock) TypeIndex() int {
	return b.typeIndex
}

// PropertyFlags returns the property flags of the block's memory type.
func (b *MemoryBlock) PropertyFlags() core1_0.MemoryPropertyFlags {
	return b.propertyFlags
}

// IsHostVisible reports whether the block can be mapped into host memory.
func (b *MemoryBlock) IsHostVisible() bool {
	return b.propertyFlags&core1_0.MemoryPropertyHostVisible != 0
}

// IsHostCoherent reports whether host writes are visible to the device
// without an explicit flush.
func (b *MemoryBlock) IsHostCoherent() bool {
	return b.propertyFlags&core1_0.MemoryPropertyHostCoherent != 0
}

// Map maps the full block into host memory and returns the mapped pointer.
// Mapping an already-mapped block returns the existing pointer. Only
// host-visible blocks can be mapped.
func (b *MemoryBlock) Map() (unsafe.Pointer, common.VkResult, error) {
	b.logger.Debug("MemoryBlock::Map")

	if !b.IsHostVisible() {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Wrapf(NotHostVisibleError, "memory type %d", b.typeIndex)
	}

	if b.mapData != nil {
		return b.mapData, core1_0.VKSuccess, nil
	}

	mapData, res, err := b.memory.Map(0, -1, 0)
	if err != nil {
		return nil, res, errors.Wrap(err, "failed to map memory block")
	}

	b.mapData = mapData
	return mapData, res, nil
}

// Unmap releases the host mapping. Unmapping a block that is not mapped is a
// no-op.
func (b *MemoryBlock) Unmap() {
	b.logger.Debug("MemoryBlock::Unmap")

	if b.mapData == nil {
		return
	}

	b.memory.Unmap()
	b.mapData = nil
}

// Flush makes size bytes of host writes starting at offset visible to the
// device. A size of -1 flushes from offset to the end of the block. Flushing
// host-coherent memory succeeds without a native call; the flushed range is
// widened to the device's nonCoherentAtomSize on both ends.
func (b *MemoryBlock) Flush(offset, size int) (common.VkResult, error) {
	b.logger.Debug("MemoryBlock::Flush")

	if !b.IsHostVisible() {
		return core1_0.VKErrorMemoryMapFailed, errors.Wrapf(NotHostVisibleError, "memory type %d", b.typeIndex)
	}

	// A size of -1 indicates everything from offset to the end of the block
	if size == 0 || size < -1 || b.IsHostCoherent() {
		return core1_0.VKSuccess, nil
	}

	if offset > b.size {
		return core1_0.VKErrorUnknown, errors.Newf("offset %d is past the end of the block, which is size %d", offset, b.size)
	}
	if size > 0 && offset+size > b.size {
		return core1_0.VKErrorUnknown, errors.Newf("offset %d places the end of the range %d past the end of the block, which is size %d", offset, offset+size, b.size)
	}

	atomSize := uint(b.nonCoherentAtomSize)
	rangeOffset := vkutil.AlignDown(offset, atomSize)
	rangeSize := b.size - rangeOffset
	if size > 0 {
		alignedSize := vkutil.AlignUp(size+(offset-rangeOffset), atomSize)
		if alignedSize < rangeSize {
			rangeSize = alignedSize
		}
	}

	return b.device.FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{
		{
			Memory: b.memory,
			Offset: rangeOffset,
			Size:   rangeSize,
		},
	})
}

// Destroy unmaps the block if needed, frees the native memory, and retires
// the registry handle. It fails while a bound resource is still alive.
func (b *MemoryBlock) Destroy() error {
	b.logger.Debug("MemoryBlock::Destroy")

	if b.mapData != nil {
		b.Unmap()
	}

	return b.registry.Destroy(b.id)
}
