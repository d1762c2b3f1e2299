package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// DescriptorPoolOptions describes a descriptor pool to create. PoolSizes are
// passed through without re-validation.
type DescriptorPoolOptions struct {
	Name string

	// MaxSets caps how many descriptor sets may be live from this pool.
	MaxSets   int
	PoolSizes []core1_0.DescriptorPoolSize
}

// DescriptorPool owns the descriptor sets allocated from it. Sets are
// returned to the system when the pool is destroyed; they are not tracked
// individually by the registry.
type DescriptorPool struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	device *device.LogicalDevice
	pool   core1_0.DescriptorPool
}

// CreateDescriptorPool creates a descriptor pool as a child of the device.
func CreateDescriptorPool(logger *slog.Logger, logicalDevice *device.LogicalDevice, options DescriptorPoolOptions) (*DescriptorPool, error) {
	logger.Debug("DescriptorPool::Create")

	pool, _, err := logicalDevice.Handle().CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   options.MaxSets,
		PoolSizes: options.PoolSizes,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create descriptor pool %s", options.Name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindDescriptorPool, options.Name, func() {
		pool.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		pool.Destroy(nil)
		return nil, err
	}

	return &DescriptorPool{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,
		device:   logicalDevice,
		pool:     pool,
	}, nil
}

// Handle returns the underlying vkngwrapper descriptor pool.
func (p *DescriptorPool) Handle() core1_0.DescriptorPool {
	return p.pool
}

func (p *DescriptorPool) ID() registry.ID {
	return p.id
}

// AllocateSets allocates one descriptor set per layout, in layout order. The
// sets stay unwritten until UpdateDescriptorSets binds resources to them.
func (p *DescriptorPool) AllocateSets(layouts []*DescriptorSetLayout) ([]core1_0.DescriptorSet, error) {
	p.logger.Debug("DescriptorPool::AllocateSets")

	setLayouts := make([]core1_0.DescriptorSetLayout, 0, len(layouts))
	for _, layout := range layouts {
		setLayouts = append(setLayouts, layout.Handle())
	}

	sets, _, err := p.device.Handle().AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.pool,
		SetLayouts:     setLayouts,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d descriptor sets", len(layouts))
	}

	return sets, nil
}

// Destroy tears down the pool through the registry. Every set allocated from
// it becomes invalid.
func (p *DescriptorPool) Destroy() error {
	p.logger.Debug("DescriptorPool::Destroy")

	return p.registry.Destroy(p.id)
}

// UpdateDescriptorSets writes resource bindings into allocated descriptor
// sets. Write ordering and binding compatibility are validated only by the
// native API.
func UpdateDescriptorSets(logicalDevice *device.LogicalDevice, writes []core1_0.WriteDescriptorSet, copies []core1_0.CopyDescriptorSet) error {
	err := logicalDevice.Handle().UpdateDescriptorSets(writes, copies)
	if err != nil {
		return errors.Wrap(err, "failed to update descriptor sets")
	}
	return nil
}
