package display

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/foundry/hwinfo"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// Surface is a registry-tracked presentation surface. The surface itself is
// created by platform code (SDL, GLFW, or a headless extension); this type
// takes ownership of an existing handle.
type Surface struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	surface khr_surface.Surface
}

// WrapSurface registers a platform-created surface as a child of the
// instance, so instance teardown is refused while the surface is alive.
func WrapSurface(logger *slog.Logger, reg *registry.Registry, surface khr_surface.Surface, instanceID registry.ID) (*Surface, error) {
	logger.Debug("Surface::Wrap")

	id, err := reg.Register(registry.KindSurface, "presentation surface", func() {
		surface.Destroy(nil)
	}, instanceID)
	if err != nil {
		return nil, err
	}

	return &Surface{
		logger:   logger,
		registry: reg,
		id:       id,
		surface:  surface,
	}, nil
}

// Handle returns the underlying vkngwrapper surface.
func (s *Surface) Handle() khr_surface.Surface {
	return s.surface
}

func (s *Surface) ID() registry.ID {
	return s.id
}

// Capabilities queries the surface's current capabilities on the given device.
func (s *Surface) Capabilities(info *hwinfo.DeviceInfo) (*khr_surface.SurfaceCapabilities, error) {
	capabilities, _, err := s.surface.PhysicalDeviceSurfaceCapabilities(info.PhysicalDevice())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query surface capabilities")
	}

	return capabilities, nil
}

// Formats queries the surface formats the device can present, in driver order.
func (s *Surface) Formats(info *hwinfo.DeviceInfo) ([]khr_surface.SurfaceFormat, error) {
	formats, _, err := s.surface.PhysicalDeviceSurfaceFormats(info.PhysicalDevice())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query surface formats")
	}

	return formats, nil
}

// PresentModes queries the present modes the device supports for this surface.
func (s *Surface) PresentModes(info *hwinfo.DeviceInfo) ([]khr_surface.PresentMode, error) {
	presentModes, _, err := s.surface.PhysicalDeviceSurfacePresentModes(info.PhysicalDevice())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query surface present modes")
	}

	return presentModes, nil
}

// SupportsQueueFamily reports whether the given queue family on the device
// can present to this surface.
func (s *Surface) SupportsQueueFamily(info *hwinfo.DeviceInfo, familyIndex int) (bool, error) {
	supported, _, err := s.surface.PhysicalDeviceSurfaceSupport(info.PhysicalDevice(), familyIndex)
	if err != nil {
		return false, errors.Wrapf(err, "failed to query surface support for queue family %d", familyIndex)
	}

	return supported, nil
}

// Destroy releases the native surface. It fails while a swapchain created
// against it is still alive.
func (s *Surface) Destroy() error {
	s.logger.Debug("Surface::Destroy")

	return s.registry.Destroy(s.id)
}
