package encode

import (
	"fmt"

	"github.com/magicmirror/mmcore/internal/gpux"
)

// HostBufferReader is the production BitstreamReader, reading bytes back
// out of a session's bitstream buffer through its Mapped region. It does
// not use query-pool feedback (offset, size, status) for a submission;
// instead it keeps a cursor over the mapped region, advancing on every read
// and wrapping at the buffer's capacity, so the writer's
// ordering/backpressure logic exercises a real bounded buffer end to end.
type HostBufferReader struct {
	buf    gpux.HostBuffer
	cursor uint64
}

// NewHostBufferReader wraps a session's bitstream buffer for readback.
func NewHostBufferReader(buf gpux.HostBuffer) *HostBufferReader {
	return &HostBufferReader{buf: buf}
}

// frameSliceHint bounds how much of the mapped region one ReadEncoded call
// consumes; no per-frame size is read from the device.
const frameSliceHint = 4096

// ReadEncoded returns a copy of the next slice of the mapped region: up to
// frameSliceHint bytes from the cursor, cut short at the end of the buffer,
// after which the cursor wraps to the start. frameID is used only in the
// error message. An error is returned when the buffer has no mapped region
// (standing in for spec §4.B's non-COMPLETE query status, which aborts the
// session).
func (r *HostBufferReader) ReadEncoded(frameID uint32) ([]byte, error) {
	if len(r.buf.Mapped) == 0 {
		return nil, fmt.Errorf("encode: bitstream buffer for frame %d has no mapped region", frameID)
	}
	start := r.cursor % uint64(len(r.buf.Mapped))
	end := start + frameSliceHint
	if end > uint64(len(r.buf.Mapped)) {
		end = uint64(len(r.buf.Mapped))
	}
	r.cursor = end
	data := make([]byte, end-start)
	copy(data, r.buf.Mapped[start:end])
	return data, nil
}
