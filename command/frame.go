package command

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/display"
	"golang.org/x/exp/slog"
)

// frameSync is the per-slot synchronization trio of the frame ring.
type frameSync struct {
	inFlight       *Fence
	imageAvailable *Semaphore
	renderFinished *Semaphore
}

// FrameCoordinator drives the steady-state acquire/record/submit/present
// cycle with a fixed number of frames in flight. Each frame slot carries a
// fence and a pair of semaphores; a per-image fence table prevents submitting
// against a swapchain image the device is still rendering to.
//
// The coordinator runs on one goroutine; it never spawns its own.
type FrameCoordinator struct {
	logger *slog.Logger
	device *device.LogicalDevice

	swapchain *display.Swapchain
	frames    []frameSync

	imagesInFlight []*Fence
	currentFrame   int
	imageIndex     int
}

// NewFrameCoordinator creates framesInFlight frame slots against the given
// swapchain. Slot fences start signaled so the first pass through each slot
// does not deadlock.
func NewFrameCoordinator(logger *slog.Logger, logicalDevice *device.LogicalDevice, swapchain *display.Swapchain, framesInFlight int) (*FrameCoordinator, error) {
	logger.Debug("FrameCoordinator::New")

	if framesInFlight < 1 {
		return nil, errors.Newf("framesInFlight must be at least 1, got %d", framesInFlight)
	}

	coordinator := &FrameCoordinator{
		logger:         logger,
		device:         logicalDevice,
		swapchain:      swapchain,
		imagesInFlight: make([]*Fence, swapchain.ImageCount()),
	}

	for frameIndex := 0; frameIndex < framesInFlight; frameIndex++ {
		fence, err := CreateFence(logger, logicalDevice, fmt.Sprintf("frame %d in-flight fence", frameIndex), true)
		if err != nil {
			return nil, err
		}
		imageAvailable, err := CreateSemaphore(logger, logicalDevice, fmt.Sprintf("frame %d image available", frameIndex))
		if err != nil {
			return nil, err
		}
		renderFinished, err := CreateSemaphore(logger, logicalDevice, fmt.Sprintf("frame %d render finished", frameIndex))
		if err != nil {
			return nil, err
		}

		coordinator.frames = append(coordinator.frames, frameSync{
			inFlight:       fence,
			imageAvailable: imageAvailable,
			renderFinished: renderFinished,
		})
	}

	return coordinator, nil
}

// Begin waits for the current frame slot's previous submission and acquires
// the next swapchain image, returning its index. display.OutOfDateError
// propagates unchanged: the caller must recreate the swapchain and call
// SetSwapchain before the next Begin.
func (c *FrameCoordinator) Begin() (int, error) {
	c.logger.Debug("FrameCoordinator::Begin")

	frame := c.frames[c.currentFrame]
	err := frame.inFlight.Wait(common.NoTimeout)
	if err != nil {
		return 0, err
	}

	imageIndex, err := c.swapchain.AcquireNextImage(common.NoTimeout, frame.imageAvailable.Handle(), nil)
	if err != nil && !errors.Is(err, display.SuboptimalError) {
		return imageIndex, err
	}

	// A previous frame may still be rendering to this image.
	if c.imagesInFlight[imageIndex] != nil && c.imagesInFlight[imageIndex] != frame.inFlight {
		waitErr := c.imagesInFlight[imageIndex].Wait(common.NoTimeout)
		if waitErr != nil {
			return 0, waitErr
		}
	}
	c.imagesInFlight[imageIndex] = frame.inFlight

	c.imageIndex = imageIndex
	return imageIndex, err
}

// Submit resets the slot fence and submits the recorded buffers, waiting on
// the acquire semaphore at waitStage and signaling the render semaphore.
func (c *FrameCoordinator) Submit(queue *device.Queue, buffers []*Buffer, waitStage core1_0.PipelineStageFlags) error {
	c.logger.Debug("FrameCoordinator::Submit")

	frame := c.frames[c.currentFrame]
	err := frame.inFlight.Reset()
	if err != nil {
		return err
	}

	return Submit(c.logger, queue, SubmitOptions{
		Buffers:          buffers,
		WaitSemaphores:   []*Semaphore{frame.imageAvailable},
		WaitDstStages:    []core1_0.PipelineStageFlags{waitStage},
		SignalSemaphores: []*Semaphore{frame.renderFinished},
		Fence:            frame.inFlight,
	})
}

// Present queues presentation of the acquired image and advances to the next
// frame slot. display.OutOfDateError and display.SuboptimalError propagate
// for the caller to trigger recreation; on SuboptimalError the frame was
// still presented and the slot advances.
func (c *FrameCoordinator) Present(queue *device.Queue) error {
	c.logger.Debug("FrameCoordinator::Present")

	frame := c.frames[c.currentFrame]
	err := c.swapchain.Present(queue, c.imageIndex, []core1_0.Semaphore{frame.renderFinished.Handle()})
	if err != nil && !errors.Is(err, display.SuboptimalError) {
		return err
	}

	c.currentFrame = (c.currentFrame + 1) % len(c.frames)
	return err
}

// SetSwapchain points the coordinator at a recreated swapchain and clears the
// per-image fence table. The caller must have drained the device first.
func (c *FrameCoordinator) SetSwapchain(swapchain *display.Swapchain) {
	c.swapchain = swapchain
	c.imagesInFlight = make([]*Fence, swapchain.ImageCount())
}

// Destroy tears down every frame slot's fence and semaphores. The device must
// be idle.
func (c *FrameCoordinator) Destroy() error {
	c.logger.Debug("FrameCoordinator::Destroy")

	for _, frame := range c.frames {
		err := frame.inFlight.Destroy()
		if err != nil {
			return err
		}
		err = frame.imageAvailable.Destroy()
		if err != nil {
			return err
		}
		err = frame.renderFinished.Destroy()
		if err != nil {
			return err
		}
	}
	c.frames = nil
	return nil
}
