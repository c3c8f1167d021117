package gpux

// ImageDesc describes an allocation request for a device image, optionally
// tagged with a video profile list so the allocator can size it for use as
// an encode DPB or bitstream source image (spec §4.A: "helpers to allocate:
// images (with optional video profile list) ...").
type ImageDesc struct {
	Width, Height uint32
	Format        uint32
	VideoProfile  *VideoProfile
	Usage         ImageUsage
}

// ImageUsage is a bitmask of how an allocated image will be used.
type ImageUsage uint32

const (
	ImageUsageColorAttachment ImageUsage = 1 << iota
	ImageUsageVideoEncodeSrc
	ImageUsageVideoEncodeDPB
	ImageUsageSampled
	ImageUsageTransferDst
)

// VideoProfile names the codec/chroma-subsampling/bit-depth combination an
// image must be compatible with (spec §4.A, §4.B: per-plane image views of
// the encode target).
type VideoProfile struct {
	Codec      VideoCodec
	ChromaSubX int
	ChromaSubY int
	BitDepth   int
}

// Image is an allocated device image handle.
type Image struct {
	Desc    ImageDesc
	handle  uintptr
	planes  []ImageView
}

// ImageView is a view over one plane (or the whole image) of an Image,
// used by the encode pipeline's per-plane YUV target views (spec §9: "two
// SwapFrames ... disjoint per-plane image views of the encode target").
type ImageView struct {
	handle uintptr
}

// Planes returns the per-plane views for a multi-planar YUV image.
func (img Image) Planes() []ImageView { return img.planes }

// HostBuffer is a host buffer used for shm composite uploads and bitstream
// readback. Mapped holds the host view of its memory when one exists; the
// cgo allocator does not allocate or map memory, so buffers it returns have
// a nil Mapped.
type HostBuffer struct {
	Size    uint64
	handle  uintptr
	Mapped  []byte
}

// QueryPool is an allocated timestamp/encode-feedback query pool (spec
// §4.B: "tracing query pools", §4.A "query pools").
type QueryPool struct {
	Count  uint32
	handle uintptr
}

// Allocator is the subset of Context responsible for image/buffer/query
// allocation, split out so encode-pipeline unit tests can inject a fake
// without standing up a full Context.
type Allocator interface {
	AllocImage(ImageDesc) (Image, error)
	AllocHostBuffer(size uint64) (HostBuffer, error)
	AllocQueryPool(count uint32) (QueryPool, error)
	NewTimelineSemaphore(initial uint64) (*TimelineSemaphore, error)
	NewCommandBuffer(queueFamily uint32) (*CommandBuffer, error)
}
