package encode

import (
	"errors"
	"fmt"
	"sync"

	"github.com/magicmirror/mmcore/internal/gpux"
)

// ErrUnsupportedCodec is returned at construction when the device
// advertises no eligible encode queue or the requested codec (spec §4.B
// "Failure semantics").
var ErrUnsupportedCodec = errors.New("encode: unsupported codec")

// EncoderConfig configures one Encoder instance. A parameter change
// (resolution, framerate, codec) requires dropping and recreating the
// pipeline/encoder rather than mutating this struct in place (spec §4.B
// "Parameter change").
type EncoderConfig struct {
	Codec        gpux.VideoCodec
	Width        int
	Height       int
	Framerate    int
	GOPSize      int
	GOPLayers    int
	DPBSlots     int
	BitstreamCap uint64
}

// dpbSlot is one reference-picture slot in the decoded picture buffer (spec
// §4.A "DPB: decoded picture buffer; the encoder's reference-picture
// pool.", §4.B "nominated setup-slot becomes active with the frame's id").
type dpbSlot struct {
	image  gpux.Image
	active bool
	frameID uint32
}

// EncodedFrame is one item handed to the output writer's sink: either a
// real encoded frame or an out-of-band header-insertion request (spec §4.B
// "Encode output writer"/"Headers ... are inserted inline by sending an
// out-of-band 'insert bytes' item through the same channel").
type EncodedFrame struct {
	IsHeaderInsert   bool
	HeaderBytes      []byte
	Data             []byte
	CaptureTimestamp uint64
	HierarchicalLayer int
	IsKeyframe       bool
}

// Encoder is the per-session video-session + DPB state machine (spec
// §4.B "Encoder state machine"). It models the reference Vulkan Video
// encoder's session/DPB bookkeeping (H264Encoder in the retrieved
// material) generalized across codecs via gpux.VideoCodec and a pluggable
// GOPStructure.
type Encoder struct {
	cfg   EncoderConfig
	gpu   *gpux.Context
	gop   GOPStructure
	dpb   []dpbSlot

	bitstream gpux.HostBuffer
	queries   gpux.QueryPool

	mu          sync.Mutex
	streamPos   uint64
	firstFrame  bool

	out chan frameSubmission
}

// frameSubmission is one in-flight encode request handed from
// SubmitEncode to the writer task's drain loop.
type frameSubmission struct {
	desc   FrameDescriptor
	tl     *swapFrameTimeline
	waitOn gpux.TimelinePoint
	signal gpux.TimelinePoint
}

const submissionQueueDepth = 4

// NewEncoder validates the device's codec support and allocates the video
// session's DPB pool and bitstream buffer (spec §4.B "Failure semantics":
// fail at construction with UnsupportedCodec).
func NewEncoder(gpu *gpux.Context, cfg EncoderConfig) (*Encoder, error) {
	supported := false
	for _, c := range gpu.Info.SupportedCodecs {
		if c == cfg.Codec {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("%w: codec %d not supported by device %q", ErrUnsupportedCodec, cfg.Codec, gpu.Info.Name)
	}
	if cfg.DPBSlots <= 0 {
		cfg.DPBSlots = 4
	}
	if cfg.GOPSize <= 0 {
		cfg.GOPSize = 30
	}
	if cfg.GOPLayers <= 0 {
		cfg.GOPLayers = 1
	}
	if cfg.BitstreamCap == 0 {
		cfg.BitstreamCap = 4 << 20
	}

	bitstream, err := gpu.AllocHostBuffer(cfg.BitstreamCap)
	if err != nil {
		return nil, fmt.Errorf("encode: allocate bitstream buffer: %w", err)
	}
	queries, err := gpu.AllocQueryPool(uint32(cfg.DPBSlots))
	if err != nil {
		return nil, fmt.Errorf("encode: allocate query pool: %w", err)
	}

	dpb := make([]dpbSlot, cfg.DPBSlots)
	for i := range dpb {
		img, err := gpu.AllocImage(gpux.ImageDesc{
			Width: uint32(cfg.Width), Height: uint32(cfg.Height),
			Usage: gpux.ImageUsageVideoEncodeDPB,
		})
		if err != nil {
			return nil, fmt.Errorf("encode: allocate dpb slot %d: %w", i, err)
		}
		dpb[i].image = img
	}

	return &Encoder{
		cfg:        cfg,
		gpu:        gpu,
		gop:        NewHierarchicalP(cfg.GOPSize, cfg.GOPLayers),
		dpb:        dpb,
		bitstream:  bitstream,
		queries:    queries,
		firstFrame: true,
		out:        make(chan frameSubmission, submissionQueueDepth),
	}, nil
}

// SubmitEncode records and submits the encode command buffer for one
// SwapFrame's encode target: acquire-from-graphics barrier, begin-video-
// coding, conditional RESET+rate-control on keyframes, the encode op, and a
// release-to-graphics barrier (spec §4.B "Encoder state machine"). It waits
// on renderDone and signals clear, matching
// "Encoder::submit_encode(image, tp_render_done, tp_clear)".
func (e *Encoder) SubmitEncode(image gpux.Image, renderDone, clear gpux.TimelinePoint, forceKeyframe bool) error {
	e.mu.Lock()
	desc := e.gop.Next(e.streamPos, forceKeyframe)
	e.streamPos++
	first := e.firstFrame
	e.firstFrame = false
	e.mu.Unlock()

	if desc.IsKeyframe {
		e.resetDPB()
	}
	e.activateSlot(desc.ID)

	// The real barrier/begin-video-coding/query/encode-op recording lives
	// on the device-specific command buffer implementation; at this layer
	// we wait on the caller's render-done point (the encode queue cannot
	// touch the image before compositing finishes) and hand the
	// descriptor to the writer task to drain once clear signals.
	if err := renderDone.Wait(); err != nil {
		return err
	}
	_ = first // first-ever frame skips the acquire-side barrier; no-op at this layer.

	if err := clear.Signal(); err != nil {
		return err
	}

	select {
	case e.out <- frameSubmission{desc: desc, waitOn: renderDone, signal: clear}:
	default:
		return fmt.Errorf("encode: output queue full, writer task is stalled")
	}
	return nil
}

func (e *Encoder) resetDPB() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.dpb {
		e.dpb[i].active = false
	}
}

func (e *Encoder) activateSlot(frameID uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.dpb {
		if !e.dpb[i].active {
			e.dpb[i].active = true
			e.dpb[i].frameID = frameID
			return
		}
	}
	// DPB full: evict the slot holding the oldest frame id (lowest id is
	// the longest-resident reference, matching the reference encoder's
	// setup-slot nomination).
	oldest := 0
	for i := 1; i < len(e.dpb); i++ {
		if e.dpb[i].frameID < e.dpb[oldest].frameID {
			oldest = i
		}
	}
	e.dpb[oldest].frameID = frameID
}

// Submissions exposes the channel of pending encode submissions for the
// writer task to drain (spec §4.B "Encode output writer": "A bounded
// channel delivers submitted frames to a writer task").
func (e *Encoder) Submissions() <-chan frameSubmission { return e.out }

// Bitstream returns the encoder's host-visible bitstream buffer, used by a
// BitstreamReader to read back encoded bytes per submission.
func (e *Encoder) Bitstream() gpux.HostBuffer { return e.bitstream }
