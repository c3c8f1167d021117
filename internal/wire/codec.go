package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Envelope pairs a Tag with its JSON-encoded payload, the reliable-stream
// framing unit described in SPEC_FULL.md §4.E: a one-byte tag followed by a
// uint32 length-prefixed payload. This generalizes the teacher's
// internal/mq newline-delimited-JSON stream framing (MQMsg/MQAck) to a
// length-prefixed form so partial reads never need to scan for a delimiter
// inside binary chunk payloads.
type Envelope struct {
	Tag     Tag
	Payload []byte
}

// WriteEnvelope writes tag + payload(v) to w as one frame. Safe to call
// concurrently with reads on the same stream but not with other writes —
// callers serialize writes per stream the way the teacher's mq.Manager.Send
// holds the stream for the duration of one message.
func WriteEnvelope(w io.Writer, tag Tag, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal payload for tag %d: %w", tag, err)
	}
	var hdr [5]byte
	hdr[0] = byte(tag)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// WriteRawEnvelope writes an already-encoded Envelope (e.g. one built via
// Encode and handed off on a channel) without re-marshaling its payload.
func WriteRawEnvelope(w io.Writer, e Envelope) error {
	var hdr [5]byte
	hdr[0] = byte(e.Tag)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(e.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(e.Payload) > 0 {
		if _, err := w.Write(e.Payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// maxEnvelopeSize bounds a single reliable-stream message to guard against a
// malformed or adversarial length prefix exhausting memory.
const maxEnvelopeSize = 16 << 20

// ReadEnvelope reads one frame from r. Returns io.EOF only when r is closed
// cleanly between frames (no partial header read).
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxEnvelopeSize {
		return Envelope{}, fmt.Errorf("wire: envelope size %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Envelope{}, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	return Envelope{Tag: Tag(hdr[0]), Payload: payload}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Encode builds an Envelope in memory without writing it, used by callers
// that hand envelopes off on a channel (e.g. the Reactor's attachment send
// channels) rather than writing directly to a stream.
func Encode(tag Tag, v any) (Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: marshal payload for tag %d: %w", tag, err)
	}
	return Envelope{Tag: tag, Payload: payload}, nil
}

// ChunkWireSize estimates the on-wire size of a chunk's datagram, used by
// the transport layer to decide where to split a frame (spec §4.E: chunks
// exceed the MTU minus a reserved header budget).
func ChunkWireSize(c *Chunk) int {
	const fixedFields = 8 + 8 + 8 + 8 + 4 + 4 + 8 + 1 + 1 // ids/seq/ts/flags
	size := fixedFields + len(c.Data)
	if c.FEC != nil {
		size += 4 + 4 + 4
	}
	return size
}
