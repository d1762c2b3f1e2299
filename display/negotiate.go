package display

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
)

// chooseSurfaceFormat returns the exact desired (format, colorspace) pair when
// the surface reports it, and otherwise falls back to the first reported
// format. The fallback is the only sanctioned silent substitution in this
// package; callers can compare the result against their request.
func chooseSurfaceFormat(available []khr_surface.SurfaceFormat, desired khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range available {
		if format.Format == desired.Format && format.ColorSpace == desired.ColorSpace {
			return format
		}
	}

	return available[0]
}

// choosePresentMode returns the desired mode when the surface reports it and
// FIFO otherwise. FIFO support is guaranteed by the native API.
func choosePresentMode(available []khr_surface.PresentMode, desired khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range available {
		if presentMode == desired {
			return presentMode
		}
	}

	return khr_surface.PresentModeFIFO
}

// chooseExtent returns the surface's current extent when the platform fixes
// it, and otherwise clamps the desired extent to the surface's reported
// bounds. A CurrentExtent width of -1 is the native sentinel for "the window
// system does not constrain the extent".
func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, desired core1_0.Extent2D) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	width := desired.Width
	height := desired.Height

	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}

// chooseImageCount clamps the requested image count to the surface's
// supported range. A requested count of 0 asks for one more than the minimum,
// which keeps the presentation engine from starving the application.
func chooseImageCount(capabilities *khr_surface.SurfaceCapabilities, requested int) int {
	count := requested
	if count == 0 {
		count = capabilities.MinImageCount + 1
	}

	if count < capabilities.MinImageCount {
		count = capabilities.MinImageCount
	}
	// MaxImageCount of 0 means the surface imposes no upper bound
	if capabilities.MaxImageCount > 0 && count > capabilities.MaxImageCount {
		count = capabilities.MaxImageCount
	}

	return count
}
