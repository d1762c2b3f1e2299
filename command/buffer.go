package command

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/alloc"
	"github.com/vkngwrapper/foundry/pipeline"
	"golang.org/x/exp/slog"
)

// InvalidStateError is the error returned when a command buffer operation is
// attempted from a state that does not permit it
var InvalidStateError error = errors.New("command buffer is in the wrong state for this operation")

// NotResettableError is the error returned from Reset when the buffer's pool
// was created without AllowReset
var NotResettableError error = errors.New("command buffer's pool does not allow individual reset")

// State is the lifecycle state of a command buffer.
type State int32

const (
	StateInitial State = iota
	StateRecording
	StateExecutable
	StatePending
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateRecording:
		return "Recording"
	case StateExecutable:
		return "Executable"
	case StatePending:
		return "Pending"
	case StateInvalid:
		return "Invalid"
	}
	return "UnknownState"
}

// BeginOptions configures how a command buffer recording begins.
type BeginOptions struct {
	// OneTimeSubmit marks the recording as single-use. After the submission's
	// fence signals, the buffer becomes invalid instead of returning to the
	// initial state.
	OneTimeSubmit bool
}

// Buffer is one command buffer allocated from a Pool. It tracks the
// initial/recording/executable/pending/invalid lifecycle and rejects
// operations issued from the wrong state. It does not validate the commands
// themselves: bound pipeline and resource state are the caller's
// responsibility.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	logger *slog.Logger
	pool   *Pool

	buffer        core1_0.CommandBuffer
	state         State
	oneTimeSubmit bool
}

// Handle returns the underlying vkngwrapper command buffer.
func (b *Buffer) Handle() core1_0.CommandBuffer {
	return b.buffer
}

// State returns the buffer's current lifecycle state.
func (b *Buffer) State() State {
	return b.state
}

// Begin starts recording. It fails with InvalidStateError unless the buffer
// is in the initial state.
func (b *Buffer) Begin(options BeginOptions) error {
	b.logger.Debug("Buffer::Begin")

	if b.state != StateInitial {
		return errors.Wrapf(InvalidStateError, "cannot begin recording in state %s", b.state)
	}

	var flags core1_0.CommandBufferUsageFlags
	if options.OneTimeSubmit {
		flags |= core1_0.CommandBufferUsageOneTimeSubmit
	}

	_, err := b.buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: flags,
	})
	if err != nil {
		return errors.Wrap(err, "failed to begin command buffer recording")
	}

	b.state = StateRecording
	b.oneTimeSubmit = options.OneTimeSubmit
	return nil
}

// End finishes recording, leaving the buffer executable.
func (b *Buffer) End() error {
	b.logger.Debug("Buffer::End")

	if b.state != StateRecording {
		return errors.Wrapf(InvalidStateError, "cannot end recording in state %s", b.state)
	}

	_, err := b.buffer.End()
	if err != nil {
		b.state = StateInvalid
		return errors.Wrap(err, "failed to end command buffer recording")
	}

	b.state = StateExecutable
	return nil
}

// Reset returns the buffer to the initial state for re-recording. It fails
// with NotResettableError when the pool was created without AllowReset, and
// with InvalidStateError while the buffer is pending.
func (b *Buffer) Reset() error {
	b.logger.Debug("Buffer::Reset")

	if !b.pool.allowReset {
		return NotResettableError
	}
	if b.state == StatePending {
		return errors.Wrap(InvalidStateError, "cannot reset a pending command buffer")
	}

	_, err := b.buffer.Reset(0)
	if err != nil {
		return errors.Wrap(err, "failed to reset command buffer")
	}

	b.state = StateInitial
	b.oneTimeSubmit = false
	return nil
}

// requireRecording gates every recorded command on the recording state.
func (b *Buffer) requireRecording(op string) error {
	if b.state != StateRecording {
		return errors.Wrapf(InvalidStateError, "%s requires a recording command buffer, state is %s", op, b.state)
	}
	return nil
}

// RenderPassBeginOptions configures BeginRenderPass. A zero RenderArea means
// the full framebuffer extent.
type RenderPassBeginOptions struct {
	RenderPass  *pipeline.RenderPass
	Framebuffer *pipeline.Framebuffer
	RenderArea  core1_0.Rect2D
	ClearValues []core1_0.ClearValue
}

func (b *Buffer) BeginRenderPass(options RenderPassBeginOptions) error {
	if err := b.requireRecording("BeginRenderPass"); err != nil {
		return err
	}

	renderArea := options.RenderArea
	if renderArea.Extent.Width == 0 && renderArea.Extent.Height == 0 {
		renderArea.Extent = options.Framebuffer.Extent()
	}

	return b.buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  options.RenderPass.Handle(),
		Framebuffer: options.Framebuffer.Handle(),
		RenderArea:  renderArea,
		ClearValues: options.ClearValues,
	})
}

func (b *Buffer) EndRenderPass() error {
	if err := b.requireRecording("EndRenderPass"); err != nil {
		return err
	}

	b.buffer.CmdEndRenderPass()
	return nil
}

func (b *Buffer) BindGraphicsPipeline(boundPipeline *pipeline.Pipeline) error {
	if err := b.requireRecording("BindGraphicsPipeline"); err != nil {
		return err
	}

	b.buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, boundPipeline.Handle())
	return nil
}

func (b *Buffer) BindComputePipeline(boundPipeline *pipeline.Pipeline) error {
	if err := b.requireRecording("BindComputePipeline"); err != nil {
		return err
	}

	b.buffer.CmdBindPipeline(core1_0.PipelineBindPointCompute, boundPipeline.Handle())
	return nil
}

func (b *Buffer) BindVertexBuffers(buffers []*alloc.Buffer, offsets []int) error {
	if err := b.requireRecording("BindVertexBuffers"); err != nil {
		return err
	}

	coreBuffers := make([]core1_0.Buffer, 0, len(buffers))
	for _, buffer := range buffers {
		coreBuffers = append(coreBuffers, buffer.Handle())
	}

	b.buffer.CmdBindVertexBuffers(0, coreBuffers, offsets)
	return nil
}

func (b *Buffer) BindIndexBuffer(buffer *alloc.Buffer, offset int, indexType core1_0.IndexType) error {
	if err := b.requireRecording("BindIndexBuffer"); err != nil {
		return err
	}

	b.buffer.CmdBindIndexBuffer(buffer.Handle(), offset, indexType)
	return nil
}

func (b *Buffer) BindDescriptorSets(bindPoint core1_0.PipelineBindPoint, layout *pipeline.PipelineLayout, sets []core1_0.DescriptorSet, dynamicOffsets []int) error {
	if err := b.requireRecording("BindDescriptorSets"); err != nil {
		return err
	}

	b.buffer.CmdBindDescriptorSets(bindPoint, layout.Handle(), 0, sets, dynamicOffsets)
	return nil
}

func (b *Buffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) error {
	if err := b.requireRecording("Draw"); err != nil {
		return err
	}

	b.buffer.CmdDraw(vertexCount, instanceCount, uint32(firstVertex), uint32(firstInstance))
	return nil
}

func (b *Buffer) DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) error {
	if err := b.requireRecording("DrawIndexed"); err != nil {
		return err
	}

	b.buffer.CmdDrawIndexed(indexCount, instanceCount, uint32(firstIndex), vertexOffset, uint32(firstInstance))
	return nil
}

func (b *Buffer) Dispatch(groupCountX, groupCountY, groupCountZ int) error {
	if err := b.requireRecording("Dispatch"); err != nil {
		return err
	}

	b.buffer.CmdDispatch(groupCountX, groupCountY, groupCountZ)
	return nil
}

func (b *Buffer) CopyBuffer(src, dst *alloc.Buffer, regions []core1_0.BufferCopy) error {
	if err := b.requireRecording("CopyBuffer"); err != nil {
		return err
	}

	return b.buffer.CmdCopyBuffer(src.Handle(), dst.Handle(), regions)
}

func (b *Buffer) CopyBufferToImage(src *alloc.Buffer, dst *alloc.Image, layout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
	if err := b.requireRecording("CopyBufferToImage"); err != nil {
		return err
	}

	return b.buffer.CmdCopyBufferToImage(src.Handle(), dst.Handle(), layout, regions)
}

// PipelineBarrier records an explicit barrier. No implicit barriers are ever
// inserted by this layer; ordering beyond declared semaphore and fence
// dependencies is entirely the caller's.
func (b *Buffer) PipelineBarrier(
	srcStageMask, dstStageMask core1_0.PipelineStageFlags,
	dependencyFlags core1_0.DependencyFlags,
	memoryBarriers []core1_0.MemoryBarrier,
	bufferBarriers []core1_0.BufferMemoryBarrier,
	imageBarriers []core1_0.ImageMemoryBarrier,
) error {
	if err := b.requireRecording("PipelineBarrier"); err != nil {
		return err
	}

	return b.buffer.CmdPipelineBarrier(srcStageMask, dstStageMask, dependencyFlags, memoryBarriers, bufferBarriers, imageBarriers)
}

func (b *Buffer) PushConstants(layout *pipeline.PipelineLayout, stageFlags core1_0.ShaderStageFlags, offset int, values []byte) error {
	if err := b.requireRecording("PushConstants"); err != nil {
		return err
	}

	b.buffer.CmdPushConstants(layout.Handle(), stageFlags, offset, values)
	return nil
}

func (b *Buffer) SetViewport(viewports []core1_0.Viewport) error {
	if err := b.requireRecording("SetViewport"); err != nil {
		return err
	}

	b.buffer.CmdSetViewport(viewports)
	return nil
}

func (b *Buffer) SetScissor(scissors []core1_0.Rect2D) error {
	if err := b.requireRecording("SetScissor"); err != nil {
		return err
	}

	b.buffer.CmdSetScissor(scissors)
	return nil
}
