package registry

// Kind identifies which native object category a registered handle belongs to.
// It exists for diagnostics and stats output only: dependency bookkeeping is
// identical for every kind.
type Kind int32

const (
	KindInstance Kind = iota
	KindSurface
	KindDevice
	KindMemory
	KindBuffer
	KindImage
	KindImageView
	KindSwapchain
	KindRenderPass
	KindFramebuffer
	KindDescriptorSetLayout
	KindDescriptorPool
	KindPipelineLayout
	KindShaderModule
	KindPipeline
	KindSampler
	KindCommandPool
	KindFence
	KindSemaphore

	kindCount
)

var kindNames = [kindCount]string{
	"Instance",
	"Surface",
	"Device",
	"Memory",
	"Buffer",
	"Image",
	"ImageView",
	"Swapchain",
	"RenderPass",
	"Framebuffer",
	"DescriptorSetLayout",
	"DescriptorPool",
	"PipelineLayout",
	"ShaderModule",
	"Pipeline",
	"Sampler",
	"CommandPool",
	"Fence",
	"Semaphore",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "UnknownKind"
	}
	return kindNames[k]
}
