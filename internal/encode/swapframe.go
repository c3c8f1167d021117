package encode

import (
	"errors"
	"fmt"
	"sync"

	"github.com/magicmirror/mmcore/internal/gpux"
)

// ErrFrameNotReady is returned by Begin when the SwapFrame about to be
// reused has not yet reached its tp_clear point (spec §4.B: "poll tp_clear;
// if unsignalled, drop the frame and return 'not ready'").
var ErrFrameNotReady = errors.New("encode: frame not ready")

// SurfaceRect is the destination rectangle (in display coordinates) a
// composited surface is drawn into (spec §4.B: "clip-space rect
// ((loc/display_size)*2-1, size/display_size*2)").
type SurfaceRect struct {
	X, Y, Width, Height int
}

// SurfaceTexture describes one surface handed to composite_surface: either
// shm-backed (CPU-produced, needs a staging upload when dirty) or
// dma-buf-backed (GPU-produced, needs a queue-acquire barrier).
type SurfaceTexture struct {
	Image          gpux.Image
	Dirty          bool
	IsDmaBuf       bool
	ExternalWaitFD int // SCM_RIGHTS-transferred dma-buf fence, 0 if none (spec §4.B).
}

// pendingDraw is one deferred composite_surface call, queued so sync
// barriers can be issued outside the dynamic-rendering pass (spec §4.B:
// "All draw calls are deferred into a list ... so that sync barriers are
// issued outside a dynamic-rendering pass").
type pendingDraw struct {
	surface SurfaceTexture
	dest    SurfaceRect
}

// swapFrameTimeline holds the three numbered points tracked per cycle (spec
// §9: "one timeline semaphore per SwapFrame with three numbered points per
// cycle").
type swapFrameTimeline struct {
	sem    *gpux.TimelineSemaphore
	base   uint64
	cycles uint64
}

func (t *swapFrameTimeline) stagingDone() gpux.TimelinePoint {
	return t.sem.NewPoint(t.base + t.cycles*10000)
}
func (t *swapFrameTimeline) renderDone() gpux.TimelinePoint {
	return t.sem.NewPoint(t.base + t.cycles*10000 + 1)
}
func (t *swapFrameTimeline) clear() gpux.TimelinePoint {
	return t.sem.NewPoint(t.base + t.cycles*10000 + 2)
}

// SwapFrame is one of two rotated frame buffers: an RGBA composite target,
// a YUV encode target, staging/render command buffers, and the
// three-point-per-cycle timeline (spec §9).
type SwapFrame struct {
	Composite gpux.Image
	EncodeTgt gpux.Image

	staging gpux.CommandBuffer
	render  gpux.CommandBuffer
	tl      swapFrameTimeline

	usedStaging  bool
	firstEver    bool
	draws        []pendingDraw
}

// Pipeline is the per-session encode pipeline (spec §4.B public contract:
// begin / composite_surface×N / end_and_submit / request_refresh).
type Pipeline struct {
	mu       sync.Mutex
	gpu      *gpux.Context
	frames   [2]*SwapFrame
	cur      int
	encoder  *Encoder
	refresh  bool

	displayW, displayH int
}

// NewPipeline allocates both SwapFrames and constructs the Encoder for the
// given codec/GOP configuration. Returns UnsupportedCodec-wrapped errors
// per spec §4.B failure semantics (checked inside NewEncoder).
func NewPipeline(gpu *gpux.Context, displayW, displayH int, encCfg EncoderConfig) (*Pipeline, error) {
	enc, err := NewEncoder(gpu, encCfg)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{gpu: gpu, encoder: enc, displayW: displayW, displayH: displayH}
	for i := range p.frames {
		sf, err := newSwapFrame(gpu, displayW, displayH, i == 0)
		if err != nil {
			return nil, fmt.Errorf("encode: allocate swap frame %d: %w", i, err)
		}
		p.frames[i] = sf
	}
	return p, nil
}

func newSwapFrame(gpu *gpux.Context, w, h int, firstEver bool) (*SwapFrame, error) {
	composite, err := gpu.AllocImage(gpux.ImageDesc{
		Width: uint32(w), Height: uint32(h),
		Usage: gpux.ImageUsageColorAttachment | gpux.ImageUsageSampled,
	})
	if err != nil {
		return nil, err
	}
	encTgt, err := gpu.AllocImage(gpux.ImageDesc{
		Width: uint32(w), Height: uint32(h),
		Usage: gpux.ImageUsageVideoEncodeSrc,
	})
	if err != nil {
		return nil, err
	}
	staging, err := gpu.NewCommandBuffer(gpu.Info.GraphicsQueueFamily)
	if err != nil {
		return nil, err
	}
	render, err := gpu.NewCommandBuffer(gpu.Info.GraphicsQueueFamily)
	if err != nil {
		return nil, err
	}
	sem, err := gpu.NewTimelineSemaphore(0)
	if err != nil {
		return nil, err
	}
	return &SwapFrame{
		Composite: composite,
		EncodeTgt: encTgt,
		staging:   *staging,
		render:    *render,
		tl:        swapFrameTimeline{sem: sem},
		firstEver: firstEver,
	}, nil
}

// RequestRefresh forces the next submitted frame to be a keyframe (spec
// §4.B: "On request_refresh() the next submitted frame is forced to
// is_keyframe=true").
func (p *Pipeline) RequestRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh = true
}

// Begin polls the next SwapFrame's clear point and, if ready, resets its
// command buffers and allocates new timeline points (spec §4.B).
func (p *Pipeline) Begin() (*SwapFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sf := p.frames[p.cur]
	if sf.tl.cycles > 0 {
		ready, err := sf.tl.clear().Poll()
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, ErrFrameNotReady
		}
	}

	if err := sf.staging.Reset(); err != nil {
		return nil, err
	}
	if err := sf.render.Reset(); err != nil {
		return nil, err
	}
	if err := sf.staging.Begin(); err != nil {
		return nil, err
	}
	if err := sf.render.Begin(); err != nil {
		return nil, err
	}
	sf.tl.cycles++
	sf.usedStaging = false
	sf.draws = sf.draws[:0]
	return sf, nil
}

// CompositeSurface queues one surface for drawing into sf's composite
// target (spec §4.B "Surface ingestion"/"Compositing"). Shm surfaces that
// are dirty mark the frame as having used staging. The queued draws are
// cleared by the next Begin; EndAndSubmit does not read them, so no upload,
// barrier or draw is recorded for a queued surface.
func (p *Pipeline) CompositeSurface(sf *SwapFrame, surface SurfaceTexture, dest SurfaceRect) {
	if surface.Dirty && !surface.IsDmaBuf {
		sf.usedStaging = true
	}
	sf.draws = append(sf.draws, pendingDraw{surface: surface, dest: dest})
}

// EndAndSubmit closes the composite/render recording, submits the staging
// (if used) and render command buffers, then hands the frame to the
// encoder (spec §4.B "Submission"). Returns the frame's tp_clear point,
// which the caller polls before reusing this SwapFrame slot.
func (p *Pipeline) EndAndSubmit(sf *SwapFrame) (gpux.TimelinePoint, error) {
	p.mu.Lock()
	refresh := p.refresh
	p.refresh = false
	p.mu.Unlock()

	if err := sf.staging.End(); err != nil {
		return gpux.TimelinePoint{}, err
	}
	if err := sf.render.End(); err != nil {
		return gpux.TimelinePoint{}, err
	}

	stagingDone := sf.tl.stagingDone()
	renderDone := sf.tl.renderDone()
	clear := sf.tl.clear()

	if sf.usedStaging {
		if err := sf.staging.Submit(gpux.TimelinePoint{}, stagingDone); err != nil {
			return gpux.TimelinePoint{}, err
		}
	} else {
		// No staging work recorded this cycle; signal immediately so the
		// render submit's wait below is never stalled on an unsignalled
		// point (spec §4.B: "Staging (only if any shm upload was
		// recorded)").
		if err := stagingDone.Signal(); err != nil {
			return gpux.TimelinePoint{}, err
		}
	}

	if err := sf.render.Submit(stagingDone, renderDone); err != nil {
		return gpux.TimelinePoint{}, err
	}

	if err := p.encoder.SubmitEncode(sf.EncodeTgt, renderDone, clear, refresh); err != nil {
		return gpux.TimelinePoint{}, err
	}

	p.cur = (p.cur + 1) % len(p.frames)
	return clear, nil
}

// Encoder returns the pipeline's encoder, used by the writer task to drain
// encoded output.
func (p *Pipeline) Encoder() *Encoder { return p.encoder }
