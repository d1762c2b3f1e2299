package command

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// PoolOptions configures command pool creation.
type PoolOptions struct {
	Name string

	// QueueFamilyIndex is the queue family whose queues may execute buffers
	// allocated from this pool.
	QueueFamilyIndex int

	// AllowReset permits individual command buffers from this pool to be
	// reset back to the initial state. Without it Reset fails.
	AllowReset bool

	// Transient hints that buffers from this pool are short-lived.
	Transient bool
}

// Pool owns the command buffers allocated from it. Buffers are returned to
// the system when the pool is destroyed; they are not tracked individually
// by the registry.
type Pool struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	device     *device.LogicalDevice
	pool       core1_0.CommandPool
	allowReset bool
}

// CreateCommandPool creates a command pool for one queue family and registers
// it as a child of the logical device.
func CreateCommandPool(logger *slog.Logger, logicalDevice *device.LogicalDevice, options PoolOptions) (*Pool, error) {
	logger.Debug("Pool::Create")

	var flags core1_0.CommandPoolCreateFlags
	if options.AllowReset {
		flags |= core1_0.CommandPoolCreateResetBuffer
	}
	if options.Transient {
		flags |= core1_0.CommandPoolCreateTransient
	}

	pool, _, err := logicalDevice.Handle().CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            flags,
		QueueFamilyIndex: options.QueueFamilyIndex,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create command pool %s", options.Name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindCommandPool, options.Name, func() {
		pool.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		pool.Destroy(nil)
		return nil, err
	}

	return &Pool{
		logger:     logger,
		registry:   logicalDevice.Registry(),
		id:         id,
		device:     logicalDevice,
		pool:       pool,
		allowReset: options.AllowReset,
	}, nil
}

// Handle returns the underlying vkngwrapper command pool.
func (p *Pool) Handle() core1_0.CommandPool {
	return p.pool
}

func (p *Pool) ID() registry.ID {
	return p.id
}

// AllowReset reports whether buffers from this pool may be individually reset.
func (p *Pool) AllowReset() bool {
	return p.allowReset
}

// Allocate allocates count command buffers of the given level from this pool.
// The returned buffers start in the initial state.
func (p *Pool) Allocate(count int, level core1_0.CommandBufferLevel) ([]*Buffer, error) {
	p.logger.Debug("Pool::Allocate")

	coreBuffers, _, err := p.device.Handle().AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p.pool,
		Level:              level,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d command buffers", count)
	}

	buffers := make([]*Buffer, 0, len(coreBuffers))
	for _, coreBuffer := range coreBuffers {
		buffers = append(buffers, &Buffer{
			logger: p.logger,
			pool:   p,
			buffer: coreBuffer,
			state:  StateInitial,
		})
	}

	return buffers, nil
}

// Free returns the given buffers to the pool ahead of pool destruction. The
// buffers must not be pending.
func (p *Pool) Free(buffers []*Buffer) error {
	p.logger.Debug("Pool::Free")

	coreBuffers := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		if buffer.state == StatePending {
			return errors.Wrapf(InvalidStateError, "cannot free command buffer in state %s", buffer.state)
		}
		coreBuffers = append(coreBuffers, buffer.buffer)
	}

	p.device.Handle().FreeCommandBuffers(coreBuffers)

	for _, buffer := range buffers {
		buffer.state = StateInvalid
	}
	return nil
}

// Destroy tears down the pool through the registry. Every buffer allocated
// from it becomes invalid.
func (p *Pool) Destroy() error {
	return p.registry.Destroy(p.id)
}
