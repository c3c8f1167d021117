package reactor

import (
	"context"

	"github.com/magicmirror/mmcore/internal/display"
	"github.com/magicmirror/mmcore/internal/encode"
	"github.com/magicmirror/mmcore/internal/gpux"
	"github.com/magicmirror/mmcore/internal/wire"
)

// encodePipelineAdapter satisfies Pipeline against a real *encode.Pipeline,
// the bridge between the reactor's testable Pipeline interface and the
// GPU-backed implementation used in production.
type encodePipelineAdapter struct {
	p *encode.Pipeline
}

func (a *encodePipelineAdapter) Begin() (any, error) {
	sf, err := a.p.Begin()
	return sf, err
}

func (a *encodePipelineAdapter) CompositeSurface(sf any, surface SurfaceInput, dest display.Surface) {
	swapFrame, ok := sf.(*encode.SwapFrame)
	if !ok {
		return
	}
	rect := encode.SurfaceRect{X: dest.X, Y: dest.Y, Width: dest.Width, Height: dest.Height}
	a.p.CompositeSurface(swapFrame, encode.SurfaceTexture{Dirty: surface.Dirty, IsDmaBuf: surface.IsDmaBuf}, rect)
}

func (a *encodePipelineAdapter) EndAndSubmit(sf any) error {
	swapFrame, ok := sf.(*encode.SwapFrame)
	if !ok {
		return nil
	}
	_, err := a.p.EndAndSubmit(swapFrame)
	return err
}

func (a *encodePipelineAdapter) RequestRefresh() { a.p.RequestRefresh() }

// NewEncodePipelineFactory builds a PipelineFactory backed by the real GPU
// encode pipeline, used by internal/daemon's session wiring. onFrame is
// called with every encoded frame the pipeline's writer task drains from
// the encoder (spec §4.B "Encode output writer"); the factory starts one
// writer goroutine per constructed pipeline, bound to ctx so it stops when
// the owning session shuts down. A resize tears down the old pipeline (the
// reactor drops its reference once needsNewPipeline is set) but the old
// writer goroutine is only reclaimed when ctx is cancelled at session end,
// not on every resize — acceptable since resizes are rare relative to a
// session's lifetime.
func NewEncodePipelineFactory(ctx context.Context, gpu *gpux.Context, gopSize, gopLayers, dpbSlots int, codec gpux.VideoCodec, onFrame func(encode.EncodedFrame)) PipelineFactory {
	return func(mode display.Mode, video wire.VideoParams) (Pipeline, error) {
		cfg := encode.EncoderConfig{
			Codec:     codec,
			Width:     mode.Width,
			Height:    mode.Height,
			Framerate: mode.Framerate,
			GOPSize:   gopSize,
			GOPLayers: gopLayers,
			DPBSlots:  dpbSlots,
		}
		p, err := encode.NewPipeline(gpu, mode.Width, mode.Height, cfg)
		if err != nil {
			return nil, err
		}

		reader := encode.NewHostBufferReader(p.Encoder().Bitstream())
		writer := encode.NewWriter(p.Encoder(), reader, onFrame, 4)
		go func() {
			if err := writer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Warnf("encode writer stopped: %v", err)
			}
		}()

		return &encodePipelineAdapter{p: p}, nil
	}
}
