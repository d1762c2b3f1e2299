package command

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// Fence is a host-observable completion signal for submitted device work.
// It remembers which command buffers were submitted against it so Wait can
// move them out of the pending state once the device is done with them.
type Fence struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	fence    core1_0.Fence
	inFlight []*Buffer
}

// CreateFence creates a fence, optionally already signaled. Signaled fences
// let frame loops wait on every frame slot uniformly, including the first use.
func CreateFence(logger *slog.Logger, logicalDevice *device.LogicalDevice, name string, signaled bool) (*Fence, error) {
	logger.Debug("Fence::Create")

	var flags core1_0.FenceCreateFlags
	if signaled {
		flags |= core1_0.FenceCreateSignaled
	}

	fence, _, err := logicalDevice.Handle().CreateFence(nil, core1_0.FenceCreateInfo{
		Flags: flags,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create fence %s", name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindFence, name, func() {
		fence.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		fence.Destroy(nil)
		return nil, err
	}

	return &Fence{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,
		fence:    fence,
	}, nil
}

// Handle returns the underlying vkngwrapper fence.
func (f *Fence) Handle() core1_0.Fence {
	return f.fence
}

func (f *Fence) ID() registry.ID {
	return f.id
}

// Wait blocks until the fence signals or the timeout elapses, returning
// device.TimeoutError in the latter case. On success every command buffer
// submitted against this fence leaves the pending state: back to initial
// when re-submittable, invalid when recorded one-time-submit.
//
// Wait is the sole host-blocking wait for device work completion.
func (f *Fence) Wait(timeout time.Duration) error {
	f.logger.Debug("Fence::Wait")

	res, err := f.fence.Wait(timeout)
	if res == core1_0.VKTimeout {
		return errors.WithStack(device.TimeoutError)
	}
	if err != nil {
		return errors.Wrap(err, "failed to wait for fence")
	}

	f.completeInFlight()
	return nil
}

// Reset returns the fence to the unsignaled state.
func (f *Fence) Reset() error {
	f.logger.Debug("Fence::Reset")

	_, err := f.fence.Reset()
	if err != nil {
		return errors.Wrap(err, "failed to reset fence")
	}
	return nil
}

// Destroy tears down the fence through the registry. The caller must ensure
// no submission still references it.
func (f *Fence) Destroy() error {
	return f.registry.Destroy(f.id)
}

func (f *Fence) completeInFlight() {
	for _, buffer := range f.inFlight {
		if buffer.state != StatePending {
			continue
		}
		if buffer.oneTimeSubmit {
			buffer.state = StateInvalid
		} else {
			buffer.state = StateInitial
		}
	}
	f.inFlight = nil
}

// Semaphore orders device-side work between queue submissions. The host
// never waits on it directly.
type Semaphore struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	semaphore core1_0.Semaphore
}

// CreateSemaphore creates a binary semaphore registered as a child of the
// logical device.
func CreateSemaphore(logger *slog.Logger, logicalDevice *device.LogicalDevice, name string) (*Semaphore, error) {
	logger.Debug("Semaphore::Create")

	semaphore, _, err := logicalDevice.Handle().CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create semaphore %s", name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindSemaphore, name, func() {
		semaphore.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		semaphore.Destroy(nil)
		return nil, err
	}

	return &Semaphore{
		logger:    logger,
		registry:  logicalDevice.Registry(),
		id:        id,
		semaphore: semaphore,
	}, nil
}

// Handle returns the underlying vkngwrapper semaphore.
func (s *Semaphore) Handle() core1_0.Semaphore {
	return s.semaphore
}

func (s *Semaphore) ID() registry.ID {
	return s.id
}

func (s *Semaphore) Destroy() error {
	return s.registry.Destroy(s.id)
}

// SubmitOptions describes one queue submission. Ordering against other
// submissions exists only insofar as WaitSemaphores and SignalSemaphores
// declare it; independent submissions are never implicitly serialized.
type SubmitOptions struct {
	Buffers []*Buffer

	WaitSemaphores []*Semaphore
	// WaitDstStages[i] is the pipeline stage at which execution waits for
	// WaitSemaphores[i]. Must match WaitSemaphores in length.
	WaitDstStages    []core1_0.PipelineStageFlags
	SignalSemaphores []*Semaphore

	// Fence, when set, signals on completion of this submission and tracks
	// the submitted buffers until its Wait observes the signal.
	Fence *Fence
}

// Submit hands the recorded buffers to the queue. It does not block:
// completion is observed by waiting on the fence. Every buffer must be
// executable, and all of them transition to pending.
func Submit(logger *slog.Logger, queue *device.Queue, options SubmitOptions) error {
	logger.Debug("Submit")

	coreBuffers := make([]core1_0.CommandBuffer, 0, len(options.Buffers))
	for _, buffer := range options.Buffers {
		if buffer.state != StateExecutable {
			return errors.Wrapf(InvalidStateError, "cannot submit command buffer in state %s", buffer.state)
		}
		coreBuffers = append(coreBuffers, buffer.buffer)
	}

	waitSemaphores := make([]core1_0.Semaphore, 0, len(options.WaitSemaphores))
	for _, semaphore := range options.WaitSemaphores {
		waitSemaphores = append(waitSemaphores, semaphore.Handle())
	}
	signalSemaphores := make([]core1_0.Semaphore, 0, len(options.SignalSemaphores))
	for _, semaphore := range options.SignalSemaphores {
		signalSemaphores = append(signalSemaphores, semaphore.Handle())
	}

	var fence core1_0.Fence
	if options.Fence != nil {
		fence = options.Fence.Handle()
	}

	_, err := queue.Handle().Submit(fence, []core1_0.SubmitInfo{
		{
			WaitSemaphores:   waitSemaphores,
			WaitDstStageMask: options.WaitDstStages,
			CommandBuffers:   coreBuffers,
			SignalSemaphores: signalSemaphores,
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to submit to queue")
	}

	for _, buffer := range options.Buffers {
		buffer.state = StatePending
	}
	if options.Fence != nil {
		options.Fence.inFlight = append(options.Fence.inFlight, options.Buffers...)
	}

	return nil
}
