package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// Sampler is a registry-tracked texture sampler, written into descriptor sets
// alongside an image view.
type Sampler struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	sampler core1_0.Sampler
}

// CreateSampler creates a sampler as a child of the device. The create info
// is passed through without re-validation; anisotropy requires the matching
// device feature to have been enabled at device creation.
func CreateSampler(logger *slog.Logger, logicalDevice *device.LogicalDevice, name string, info core1_0.SamplerCreateInfo) (*Sampler, error) {
	logger.Debug("Sampler::Create")

	sampler, _, err := logicalDevice.Handle().CreateSampler(nil, info)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create sampler %s", name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindSampler, name, func() {
		sampler.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		sampler.Destroy(nil)
		return nil, err
	}

	return &Sampler{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		sampler: sampler,
	}, nil
}

// Handle returns the underlying vkngwrapper sampler.
func (s *Sampler) Handle() core1_0.Sampler {
	return s.sampler
}

func (s *Sampler) ID() registry.ID {
	return s.id
}

func (s *Sampler) Destroy() error {
	s.logger.Debug("Sampler::Destroy")

	return s.registry.Destroy(s.id)
}
