package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/device"
	"github.com/vkngwrapper/foundry/registry"
	"golang.org/x/exp/slog"
)

// RenderPassOptions is passed through to the native API without
// re-validation; the attachment/subpass consistency rules are the driver's to
// enforce.
type RenderPassOptions struct {
	Name string

	Attachments  []core1_0.AttachmentDescription
	Subpasses    []core1_0.SubpassDescription
	Dependencies []core1_0.SubpassDependency
}

// RenderPass is a registry-tracked render pass.
type RenderPass struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	renderPass core1_0.RenderPass
}

// CreateRenderPass creates a render pass as a child of the device.
func CreateRenderPass(logger *slog.Logger, logicalDevice *device.LogicalDevice, options RenderPassOptions) (*RenderPass, error) {
	logger.Debug("RenderPass::Create")

	renderPass, _, err := logicalDevice.Handle().CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments:         options.Attachments,
		Subpasses:           options.Subpasses,
		SubpassDependencies: options.Dependencies,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create render pass %s", options.Name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindRenderPass, options.Name, func() {
		renderPass.Destroy(nil)
	}, logicalDevice.ID())
	if err != nil {
		renderPass.Destroy(nil)
		return nil, err
	}

	return &RenderPass{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		renderPass: renderPass,
	}, nil
}

// Handle returns the underlying vkngwrapper render pass.
func (r *RenderPass) Handle() core1_0.RenderPass {
	return r.renderPass
}

func (r *RenderPass) ID() registry.ID {
	return r.id
}

// Destroy releases the native render pass. It fails while pipelines or
// framebuffers created against it are still alive.
func (r *RenderPass) Destroy() error {
	r.logger.Debug("RenderPass::Destroy")

	return r.registry.Destroy(r.id)
}

// FramebufferOptions names the image views a render pass instance will
// attach, in attachment order.
type FramebufferOptions struct {
	Name string

	RenderPass  *RenderPass
	Attachments []core1_0.ImageView
	Width       int
	Height      int
	Layers      int
}

// Framebuffer is a registry-tracked framebuffer.
type Framebuffer struct {
	logger   *slog.Logger
	registry *registry.Registry
	id       registry.ID

	framebuffer core1_0.Framebuffer
	extent      core1_0.Extent2D
}

// CreateFramebuffer creates a framebuffer as a child of the device and the
// render pass. Layers defaults to 1 when left zero.
func CreateFramebuffer(logger *slog.Logger, logicalDevice *device.LogicalDevice, options FramebufferOptions) (*Framebuffer, error) {
	logger.Debug("Framebuffer::Create")

	if options.Layers == 0 {
		options.Layers = 1
	}

	framebuffer, _, err := logicalDevice.Handle().CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  options.RenderPass.Handle(),
		Attachments: options.Attachments,
		Width:       options.Width,
		Height:      options.Height,
		Layers:      uint32(options.Layers),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create framebuffer %s", options.Name)
	}

	id, err := logicalDevice.Registry().Register(registry.KindFramebuffer, options.Name, func() {
		framebuffer.Destroy(nil)
	}, logicalDevice.ID(), options.RenderPass.ID())
	if err != nil {
		framebuffer.Destroy(nil)
		return nil, err
	}

	return &Framebuffer{
		logger:   logger,
		registry: logicalDevice.Registry(),
		id:       id,

		framebuffer: framebuffer,
		extent:      core1_0.Extent2D{Width: options.Width, Height: options.Height},
	}, nil
}

// Handle returns the underlying vkngwrapper framebuffer.
func (f *Framebuffer) Handle() core1_0.Framebuffer {
	return f.framebuffer
}

func (f *Framebuffer) ID() registry.ID {
	return f.id
}

// Extent returns the framebuffer dimensions given at creation.
func (f *Framebuffer) Extent() core1_0.Extent2D {
	return f.extent
}

// Destroy releases the native framebuffer.
func (f *Framebuffer) Destroy() error {
	f.logger.Debug("Framebuffer::Destroy")

	return f.registry.Destroy(f.id)
}
