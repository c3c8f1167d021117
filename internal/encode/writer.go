package encode

import (
	"context"
	"fmt"

	"github.com/magicmirror/mmcore/internal/applog"
)

var log = applog.Component("ENCODE")

// Sink receives one encoded frame or header-insert item in submission
// order (spec §4.B "Encode output writer").
type Sink func(EncodedFrame)

// BitstreamReader abstracts reading the encoded bytes for one submission
// out of the device bitstream buffer, keyed by query-pool feedback
// (offset, size, result). Implemented against gpux in production; a fake
// is used in tests so the writer's ordering/backpressure logic is
// verifiable without a GPU.
type BitstreamReader interface {
	// ReadEncoded returns the encoded bytes for the submission identified
	// by frameID, or an error if the query reported a non-COMPLETE status
	// (spec §4.B "Failure semantics": "A query pool returning a
	// non-COMPLETE status on the writer side aborts the session").
	ReadEncoded(frameID uint32) ([]byte, error)
}

// Writer drains an Encoder's submission channel, waits on each frame's
// clear point, reads the encoded bytes, and forwards them to sink along
// with capture timestamp / hierarchical layer / keyframe flag (spec §4.B).
type Writer struct {
	enc    *Encoder
	reader BitstreamReader
	sink   Sink

	headers chan []byte
}

// NewWriter constructs a Writer for enc. headerQueueDepth bounds the
// out-of-band "insert bytes" queue used for SPS/PPS/VPS prefixes and
// mid-stream parameter updates.
func NewWriter(enc *Encoder, reader BitstreamReader, sink Sink, headerQueueDepth int) *Writer {
	if headerQueueDepth <= 0 {
		headerQueueDepth = 4
	}
	return &Writer{enc: enc, reader: reader, sink: sink, headers: make(chan []byte, headerQueueDepth)}
}

// InsertHeader queues an out-of-band header/parameter-update blob to be
// delivered to sink ahead of the next encoded frame (spec §4.B: "Headers
// ... are inserted inline by sending an out-of-band 'insert bytes' item
// through the same channel").
func (w *Writer) InsertHeader(data []byte) error {
	select {
	case w.headers <- data:
		return nil
	default:
		return fmt.Errorf("encode: header queue full")
	}
}

// Run drains submissions until ctx is cancelled or the submission channel
// closes. Returns the first error encountered (spec §4.B: a bad query
// status aborts the session, so Run returns rather than skipping the
// frame).
func (w *Writer) Run(ctx context.Context) error {
	submissions := w.enc.Submissions()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hdr, ok := <-w.headers:
			if ok {
				w.sink(EncodedFrame{IsHeaderInsert: true, HeaderBytes: hdr})
			}
		case sub, ok := <-submissions:
			for pending := true; pending; {
				select {
				case hdr := <-w.headers:
					w.sink(EncodedFrame{IsHeaderInsert: true, HeaderBytes: hdr})
				default:
					pending = false
				}
			}
			if !ok {
				return nil
			}
			if err := w.drain(sub); err != nil {
				return err
			}
		}
	}
}

func (w *Writer) drain(sub frameSubmission) error {
	if err := sub.signal.Wait(); err != nil {
		return fmt.Errorf("encode: waiting on clear point for frame %d: %w", sub.desc.ID, err)
	}
	data, err := w.reader.ReadEncoded(sub.desc.ID)
	if err != nil {
		return fmt.Errorf("encode: query pool reported failure for frame %d, aborting session: %w", sub.desc.ID, err)
	}
	w.sink(EncodedFrame{
		Data:              data,
		CaptureTimestamp:  sub.desc.StreamPosition,
		HierarchicalLayer: sub.desc.Layer,
		IsKeyframe:        sub.desc.IsKeyframe,
	})
	log.Printf("wrote frame id=%d layer=%d keyframe=%v bytes=%d", sub.desc.ID, sub.desc.Layer, sub.desc.IsKeyframe, len(data))
	return nil
}
