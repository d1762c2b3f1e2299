package device

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// Loader is the slice of the vkngwrapper loader surface instance creation
// needs. core.CreateSystemLoader produces a suitable value.
type Loader interface {
	AvailableExtensions() (map[string]*core1_0.ExtensionProperties, common.VkResult, error)
	AvailableLayers() (map[string]*core1_0.LayerProperties, common.VkResult, error)
	CreateInstance(allocationCallbacks *driver.AllocationCallbacks, options core1_0.InstanceCreateInfo) (core1_0.Instance, common.VkResult, error)
}

// InstanceOptions configures process-wide instance creation. Extension and
// layer names are passed through to the driver unmodified.
type InstanceOptions struct {
	ApplicationName    string
	ApplicationVersion common.Version
	EngineName         string
	EngineVersion      common.Version
	APIVersion         common.APIVersion

	ExtensionNames []string
	LayerNames     []string
}

// Instance wraps the process-wide connection to the graphics API. It is
// created once and torn down last: every other registered handle ultimately
// depends on it.
type Instance struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID
	instance core1_0.Instance
}

// CreateInstance creates the native instance and registers it as the root of
// the ownership graph.
func CreateInstance(logger *slog.Logger, reg *registry.Registry, loader Loader, options InstanceOptions) (*Instance, error) {
	logger.Debug("Instance::Create")

	instance, _, err := loader.CreateInstance(nil, core1_0.InstanceCreateInfo{
		ApplicationName:       options.ApplicationName,
		ApplicationVersion:    options.ApplicationVersion,
		EngineName:            options.EngineName,
		EngineVersion:         options.EngineVersion,
		APIVersion:            options.APIVersion,
		EnabledExtensionNames: options.ExtensionNames,
		EnabledLayerNames:     options.LayerNames,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create instance")
	}

	return WrapInstance(logger, reg, instance)
}

// WrapInstance registers an instance created elsewhere (or by a test rig) so
// that it participates in registry teardown.
func WrapInstance(logger *slog.Logger, reg *registry.Registry, instance core1_0.Instance) (*Instance, error) {
	id, err := reg.Register(registry.KindInstance, "instance", func() {
		instance.Destroy(nil)
	})
	if err != nil {
		return nil, err
	}

	return &Instance{
		logger:   logger,
		registry: reg,
		id:       id,
		instance: instance,
	}, nil
}

// Handle returns the underlying vkngwrapper instance.
func (i *Instance) Handle() core1_0.Instance {
	return i.instance
}

func (i *Instance) ID() registry.ID {
	return i.id
}

// Destroy tears down the instance through the registry. It fails with
// registry.DependencyStillAliveError while any child handle is live.
func (i *Instance) Destroy() error {
	return i.registry.Destroy(i.id)
}
