package alloc

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// Resource is a memory-backed handle (a Buffer or an Image) that can be bound
// to a MemoryBlock through Allocator.Bind.
type Resource interface {
	ID() registry.ID
	MemoryRequirements() *core1_0.MemoryRequirements

	name() string
	boundBlock() *MemoryBlock
	bindMemory(block *MemoryBlock) (common.VkResult, error)
}

// BufferOptions describes an unbound buffer to create.
type BufferOptions struct {
	Name string

	Size               int
	Usage              core1_0.BufferUsageFlags
	SharingMode        core1_0.SharingMode
	QueueFamilyIndices []int
}

// Buffer is a registry-tracked buffer handle. It is created unbound; memory
// is attached with Allocator.Bind or Allocator.AllocateForBuffer.
type Buffer struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	handleName   string
	buffer       core1_0.Buffer
	requirements *core1_0.MemoryRequirements
	block        *MemoryBlock
}

// CreateBuffer creates an unbound buffer and registers it as a child of the
// logical device.
func CreateBuffer(logger *slog.Logger, logicalDevice *device.LogicalDevice, options BufferOptions) (*Buffer, error) {
	logger.Debug("Buffer::Create")

	buffer, _, err := logicalDevice.Handle().CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:               options.Size,
		Usage:              options.Usage,
		SharingMode:        options.SharingMode,
		QueueFamilyIndices: options.QueueFamilyIndices,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create buffer %s", options.Name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindBuffer, options.Name, func() {
		buffer.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		buffer.Destroy(nil)
		return nil, err
	}

	return &Buffer{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		handleName:   options.Name,
		buffer:       buffer,
		requirements: buffer.MemoryRequirements(),
	}, nil
}

// Handle returns the underlying vkngwrapper buffer.
func (b *Buffer) Handle() core1_0.Buffer {
	return b.buffer
}

func (b *Buffer) ID() registry.ID {
	return b.id
}

// MemoryRequirements returns the size, alignment, and memory type bitmask the
// buffer requires, as reported at creation.
func (b *Buffer) MemoryRequirements() *core1_0.MemoryRequirements {
	return b.requirements
}

// Block returns the memory block the buffer is bound to, or nil while the
// buffer is unbound.
func (b *Buffer) Block() *MemoryBlock {
	return b.block
}

// Destroy releases the native buffer. The backing block, if any, stays alive
// and can be rebound or destroyed afterwards.
func (b *Buffer) Destroy() error {
	b.logger.Debug("Buffer::Destroy")

	return b.registry.Destroy(b.id)
}

func (b *Buffer) name() string {
	return b.handleName
}

func (b *Buffer) boundBlock() *MemoryBlock {
	return b.block
}

func (b *Buffer) bindMemory(block *MemoryBlock) (common.VkResult, error) {
	res, err := b.buffer.BindBufferMemory(block.Handle(), 0)
	if err != nil {
		return res, err
	}

	b.block = block
	return res, nil
}

// ImageOptions describes an unbound image to create. MipLevels, ArrayLayers,
// and Samples default to 1 when left zero.
type ImageOptions struct {
	Name string

	ImageType   core1_0.ImageType
	Format      core1_0.Format
	Extent      core1_0.Extent3D
	MipLevels   int
	ArrayLayers int
	Samples     core1_0.SampleCountFlags
	Tiling      core1_0.ImageTiling
	Usage       core1_0.ImageUsageFlags
	SharingMode core1_0.SharingMode

	QueueFamilyIndices []int
	InitialLayout      core1_0.ImageLayout
}

// Image is a registry-tracked image handle. It is created unbound; memory is
// attached with Allocator.Bind or Allocator.AllocateForImage.
type Image struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	handleName   string
	image        core1_0.Image
	requirements *core1_0.MemoryRequirements
	block        *MemoryBlock
}

// CreateImage creates an unbound image and registers it as a child of the
// logical device.
func CreateImage(logger *slog.Logger, logicalDevice *device.LogicalDevice, options ImageOptions) (*Image, error) {
	logger.Debug("Image::Create")

	if options.MipLevels == 0 {
		options.MipLevels = 1
	}
	if options.ArrayLayers == 0 {
		options.ArrayLayers = 1
	}
	if options.Samples == 0 {
		options.Samples = core1_0.Samples1
	}

	queueFamilyIndices := make([]uint32, len(options.QueueFamilyIndices))
	for i, index := range options.QueueFamilyIndices {
		queueFamilyIndices[i] = uint32(index)
	}

	image, _, err := logicalDevice.Handle().CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType:          options.ImageType,
		Format:             options.Format,
		Extent:             options.Extent,
		MipLevels:          options.MipLevels,
		ArrayLayers:        options.ArrayLayers,
		Samples:            options.Samples,
		Tiling:             options.Tiling,
		Usage:              options.Usage,
		SharingMode:        options.SharingMode,
		QueueFamilyIndices: queueFamilyIndices,
		InitialLayout:      options.InitialLayout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create image %s", options.Name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindImage, options.Name, func() {
		image.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		image.Destroy(nil)
		return nil, err
	}

	return &Image{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		handleName:   options.Name,
		image:        image,
		requirements: image.MemoryRequirements(),
	}, nil
}

// Handle returns the underlying vkngwrapper image.
func (i *Image) Handle() core1_0.Image {
	return i.image
}

func (i *Image) ID() registry.ID {
	return i.id
}

// MemoryRequirements returns the size, alignment, and memory type bitmask the
// image requires, as reported at creation.
func (i *Image) MemoryRequirements() *core1_0.MemoryRequirements {
	return i.requirements
}

// Block returns the memory block the image is bound to, or nil while the
// image is unbound.
func (i *Image) Block() *MemoryBlock {
	return i.block
}

// Destroy releases the native image. The backing block, if any, stays alive
// and can be rebound or destroyed afterwards.
func (i *Image) Destroy() error {
	i.logger.Debug("Image::Destroy")

	return i.registry.Destroy(i.id)
}

func (i *Image) name() string {
	return i.handleName
}

func (i *Image) boundBlock() *MemoryBlock {
	return i.block
}

func (i *Image) bindMemory(block *MemoryBlock) (common.VkResult, error) {
	res, err := i.image.BindImageMemory(block.Handle(), 0)
	if err != nil {
		return res, err
	}

	i.block = block
	return res, nil
}
