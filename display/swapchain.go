package display

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// OutOfDateError is the error returned when the surface has changed
// incompatibly and the swapchain must be recreated before presenting again
var OutOfDateError error = errors.New("swapchain is out of date with its surface")

// SuboptimalError is the advisory error returned when the swapchain still
// presents correctly but no longer matches the surface exactly. The operation
// that reports it has succeeded; recreating at a convenient time is advised
var SuboptimalError error = errors.New("swapchain is suboptimal for its surface")

// SwapchainOptions describes the desired presentation setup. Every desire is
// negotiated against what the surface reports; format and present mode fall
// back rather than fail.
type SwapchainOptions struct {
	Name string

	DesiredFormat      khr_surface.SurfaceFormat
	DesiredPresentMode khr_surface.PresentMode
	// DesiredExtent is used when the platform does not fix the surface extent
	DesiredExtent core1_0.Extent2D
	// ImageCount of 0 requests MinImageCount+1
	ImageCount int

	Usage              core1_0.ImageUsageFlags
	SharingMode        core1_0.SharingMode
	QueueFamilyIndices []int
}

// Swapchain owns a native swapchain plus one application-side image view per
// swapchain image. Format, extent, and image count are fixed for the life of
// the instance; when the surface changes, Recreate produces a successor.
type Swapchain struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	device    *device.LogicalDevice
	surface   *Surface
	extension khr_swapchain.Extension
	options   SwapchainOptions

	swapchain  khr_swapchain.Swapchain
	format     khr_surface.SurfaceFormat
	extent     core1_0.Extent2D
	images     []core1_0.Image
	imageViews []core1_0.ImageView
}

// CreateSwapchain negotiates options against the surface and creates the
// swapchain and its image views. The swapchain registers as a child of both
// the device and the surface.
func CreateSwapchain(logger *slog.Logger, logicalDevice *device.LogicalDevice, surface *Surface, options SwapchainOptions) (*Swapchain, error) {
	logger.Debug("Swapchain::Create")

	extension := khr_swapchain.CreateExtensionFromDevice(logicalDevice.Handle())

	return createSwapchain(logger, logicalDevice, surface, extension, options, nil)
}

func createSwapchain(
	logger *slog.Logger,
	logicalDevice *device.LogicalDevice,
	surface *Surface,
	extension khr_swapchain.Extension,
	options SwapchainOptions,
	oldSwapchain khr_swapchain.Swapchain,
) (*Swapchain, error) {
	info := logicalDevice.Info()

	capabilities, err := surface.Capabilities(info)
	if err != nil {
		return nil, err
	}
	formats, err := surface.Formats(info)
	if err != nil {
		return nil, err
	}
	if len(formats) == 0 {
		return nil, errors.New("surface reports no supported formats")
	}
	presentModes, err := surface.PresentModes(info)
	if err != nil {
		return nil, err
	}

	format := chooseSurfaceFormat(formats, options.DesiredFormat)
	if format != options.DesiredFormat {
		logger.Info("desired surface format unavailable, falling back",
			slog.Int("desiredFormat", int(options.DesiredFormat.Format)),
			slog.Int("actualFormat", int(format.Format)),
		)
	}
	presentMode := choosePresentMode(presentModes, options.DesiredPresentMode)
	extent := chooseExtent(capabilities, options.DesiredExtent)
	imageCount := chooseImageCount(capabilities, options.ImageCount)

	swapchain, _, err := extension.CreateSwapchain(logicalDevice.Handle(), nil, khr_swapchain.SwapchainCreateInfo{
		Surface: surface.Handle(),

		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       options.Usage,

		ImageSharingMode:   options.SharingMode,
		QueueFamilyIndices: options.QueueFamilyIndices,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,

		OldSwapchain: oldSwapchain,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create swapchain %s", options.Name)
	}

	reg := logicalDevice.Registry()
	id, err := reg.Register(registry.KindSwapchain, options.Name, func() {
		swapchain.Destroy(nil)
	}, logicalDevice.ID(), surface.ID())
	if err != nil {
		swapchain.Destroy(nil)
		return nil, err
	}

	result := &Swapchain{
		logger:   logger,
		registry: reg,
		id:       id,

		device:    logicalDevice,
		surface:   surface,
		extension: extension,
		options:   options,

		swapchain: swapchain,
		format:    format,
		extent:    extent,
	}

	err = result.createImageViews()
	if err != nil {
		cascadeErr := reg.DestroyCascade(id)
		if cascadeErr != nil {
			logger.Error("failed to release partially-built swapchain", slog.Any("error", cascadeErr))
		}
		return nil, err
	}

	return result, nil
}

func (s *Swapchain) createImageViews() error {
	images, _, err := s.swapchain.SwapchainImages()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve swapchain images")
	}
	s.images = images

	for _, image := range images {
		view, _, err := s.device.Handle().CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   s.format.Format,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			return errors.Wrap(err, "failed to create swapchain image view")
		}

		viewHandle := view
		_, err = s.registry.Register(registry.KindImageView, s.options.Name, func() {
			viewHandle.Destroy(nil)
		}, s.id)
		if err != nil {
			view.Destroy(nil)
			return err
		}

		s.imageViews = append(s.imageViews, view)
	}

	return nil
}

// Handle returns the underlying vkngwrapper swapchain.
func (s *Swapchain) Handle() khr_swapchain.Swapchain {
	return s.swapchain
}

func (s *Swapchain) ID() registry.ID {
	return s.id
}

// Format returns the negotiated surface format.
func (s *Swapchain) Format() khr_surface.SurfaceFormat {
	return s.format
}

// Extent returns the negotiated image extent.
func (s *Swapchain) Extent() core1_0.Extent2D {
	return s.extent
}

// Images returns the presentation images owned by the native swapchain.
func (s *Swapchain) Images() []core1_0.Image {
	return s.images
}

// ImageViews returns the application-side views, one per swapchain image,
// indexed by image index.
func (s *Swapchain) ImageViews() []core1_0.ImageView {
	return s.imageViews
}

// ImageCount returns the number of presentation images actually created.
func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

// AcquireNextImage blocks up to timeout for a presentation image and returns
// its index. It fails with OutOfDateError when the swapchain must be
// recreated and with device.TimeoutError when the timeout elapses. On
// SuboptimalError the returned index is valid and the acquire has succeeded;
// the error is advisory.
func (s *Swapchain) AcquireNextImage(timeout time.Duration, semaphore core1_0.Semaphore, fence core1_0.Fence) (int, error) {
	s.logger.Debug("Swapchain::AcquireNextImage")

	index, res, err := s.swapchain.AcquireNextImage(timeout, semaphore, fence)
	return mapAcquireResult(index, res, err)
}

func mapAcquireResult(index int, res common.VkResult, err error) (int, error) {
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return index, errors.WithStack(OutOfDateError)
	case core1_0.VKTimeout, core1_0.VKNotReady:
		return index, errors.WithStack(device.TimeoutError)
	case khr_swapchain.VKSuboptimal:
		return index, errors.WithStack(SuboptimalError)
	}

	if err != nil {
		return index, errors.Wrap(err, "failed to acquire swapchain image")
	}

	return index, nil
}

// Present queues the image at imageIndex for presentation after
// waitSemaphores signal. It fails with OutOfDateError when the swapchain must
// be recreated; on SuboptimalError the frame has been presented and the error
// is advisory.
func (s *Swapchain) Present(queue *device.Queue, imageIndex int, waitSemaphores []core1_0.Semaphore) error {
	s.logger.Debug("Swapchain::Present")

	res, err := s.extension.QueuePresent(queue.Handle(), khr_swapchain.PresentInfo{
		WaitSemaphores: waitSemaphores,
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{imageIndex},
	})

	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return errors.WithStack(OutOfDateError)
	case khr_swapchain.VKSuboptimal:
		return errors.WithStack(SuboptimalError)
	}

	if err != nil {
		return errors.Wrap(err, "failed to present swapchain image")
	}

	return nil
}

// Recreate builds a successor swapchain against the surface's current state,
// handing the native swapchain over through OldSwapchain so the presentation
// engine can migrate. The old swapchain and its views are destroyed once the
// successor exists; the caller must ensure no submitted work still references
// them, usually by waiting the device idle first.
func (s *Swapchain) Recreate() (*Swapchain, error) {
	s.logger.Debug("Swapchain::Recreate")

	successor, err := createSwapchain(s.logger, s.device, s.surface, s.extension, s.options, s.swapchain)
	if err != nil {
		return nil, err
	}

	err = s.registry.DestroyCascade(s.id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to retire the old swapchain")
	}

	return successor, nil
}

// Destroy releases the image views and the native swapchain.
func (s *Swapchain) Destroy() error {
	s.logger.Debug("Swapchain::Destroy")

	return s.registry.DestroyCascade(s.id)
}
