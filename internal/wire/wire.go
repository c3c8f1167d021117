// Package wire defines the message catalogue and chunk layout exchanged
// between the QUIC Server and attached clients (spec.md §6). It generalizes
// the teacher's internal/proto flat-tagged-struct style (proto.PresenceMsg)
// to the Magic Mirror message set.
package wire

import "time"

// Reliable-stream protocol tag bytes. One byte precedes every length-prefixed
// JSON message on a bidirectional stream, mirroring the teacher's
// internal/mq wire types (MQMsg/MQAck) generalized into a closed tag set.
type Tag byte

const (
	TagAttach Tag = iota + 1
	TagAttached
	TagDetach
	TagSessionEnded
	TagSessionParametersChanged
	TagKeepAlive
	TagError
	TagRequestVideoRefresh
	TagListApps
	TagListAppsReply
	TagListSessions
	TagListSessionsReply
	TagLaunchSession
	TagLaunchSessionReply
	TagEndSession
	TagUpdateSessionDisplayParams
	TagInputEvent
	TagCursorUpdate
	TagLockPointer
	TagReleasePointer
	TagVideoChunk
	TagAudioChunk
)

// ErrorCode is the closed set of error codes surfaced on the wire (spec §6).
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrProtocol
	ErrProtocolUnexpectedMessage
	ErrSessionNotFound
	ErrAttachmentParamsNotSupported
	ErrServer
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNone:
		return "none"
	case ErrProtocol:
		return "Protocol"
	case ErrProtocolUnexpectedMessage:
		return "ProtocolUnexpectedMessage"
	case ErrSessionNotFound:
		return "SessionNotFound"
	case ErrAttachmentParamsNotSupported:
		return "AttachmentParamsNotSupported"
	case ErrServer:
		return "Server"
	default:
		return "Unknown"
	}
}

// VideoCodec is the set of supported hardware encode codecs (spec §4.A).
type VideoCodec int

const (
	CodecH264 VideoCodec = iota
	CodecH265
	CodecAV1
)

// DisplayParams describes a session's virtual display mode.
type DisplayParams struct {
	Width     uint32  `json:"width"`
	Height    uint32  `json:"height"`
	Framerate uint32  `json:"framerate"`
	UIScale   float64 `json:"ui_scale"`
}

// VideoParams is an attachment's chosen video encode parameters. Width,
// Height and Framerate are the client's requested stream dimensions; left
// zero, the attachment inherits the session's current display mode. Since
// superres is not implemented (spec §4.D), a nonzero value must match the
// display mode exactly or Attach rejects it.
type VideoParams struct {
	Codec     VideoCodec `json:"codec"`
	Profile   string     `json:"profile"`
	Quality   string     `json:"quality_preset"`
	Width     uint32     `json:"width,omitempty"`
	Height    uint32     `json:"height,omitempty"`
	Framerate uint32     `json:"framerate,omitempty"`
}

// AudioParams is an attachment's chosen audio encode parameters.
type AudioParams struct {
	Codec      string `json:"codec"`
	SampleRate uint32 `json:"sample_rate"`
	Channels   uint32 `json:"channels"`
}

// Attach is sent by a client requesting media from a session.
type Attach struct {
	SessionID uint64      `json:"session_id"`
	Video     VideoParams `json:"video"`
	Audio     AudioParams `json:"audio"`
}

// Attached confirms an attachment and echoes the negotiated parameters.
type Attached struct {
	SessionID    uint64      `json:"session_id"`
	AttachmentID uint64      `json:"attachment_id"`
	Display      DisplayParams `json:"display"`
	Video        VideoParams `json:"video"`
	Audio        AudioParams `json:"audio"`
}

// Detach ends an attachment, initiated by either side.
type Detach struct {
	AttachmentID uint64 `json:"attachment_id"`
	Reason       string `json:"reason,omitempty"`
}

// SessionEnded notifies all attachments that a session is gone.
type SessionEnded struct {
	SessionID uint64 `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// SessionParametersChanged notifies attachments of a display-parameter
// change; ReattachRequired means the current video_stream_seq is ending.
type SessionParametersChanged struct {
	SessionID        uint64        `json:"session_id"`
	Display          DisplayParams `json:"display"`
	ReattachRequired bool          `json:"reattach_required"`
}

// KeepAlive resets the attachment's 30s idle timer (spec §4.E).
type KeepAlive struct {
	AttachmentID uint64 `json:"attachment_id"`
}

// Error is the generic error envelope carried on a stream.
type Error struct {
	Code ErrorCode `json:"code"`
	Text string    `json:"text"`
}

// RequestVideoRefresh asks the server to force a keyframe on stream_seq.
type RequestVideoRefresh struct {
	AttachmentID uint64 `json:"attachment_id"`
	StreamSeq    uint64 `json:"stream_seq"`
}

// ListApps / LaunchSession / EndSession / UpdateSessionDisplayParams carry
// the Session Reactor lifecycle API (spec §4.E).
type ListApps struct{}

type AppDescriptor struct {
	Name string `json:"name"`
}

type ListAppsReply struct {
	Apps []AppDescriptor `json:"apps"`
}

type ListSessions struct{}

type SessionDescriptor struct {
	SessionID   uint64        `json:"session_id"`
	App         string        `json:"app"`
	Display     DisplayParams `json:"display"`
	Attachments int           `json:"attachments"`
}

type ListSessionsReply struct {
	Sessions []SessionDescriptor `json:"sessions"`
}

type LaunchSession struct {
	App     string        `json:"app"`
	Display DisplayParams `json:"display"`
}

type LaunchSessionReply struct {
	SessionID uint64 `json:"session_id"`
}

type EndSession struct {
	SessionID uint64 `json:"session_id"`
}

type UpdateSessionDisplayParams struct {
	SessionID uint64        `json:"session_id"`
	Display   DisplayParams `json:"display"`
}

// Input event kinds injected into the virtual display (spec §4.D).
type InputKind int

const (
	InputKeyboard InputKind = iota
	InputPointerMove
	InputPointerButton
	InputScroll
	InputGamepad
)

// ScrollAxisKind distinguishes continuous vs discrete wheel input; discrete
// is converted to the integer 120-based unit by the Reactor (spec §4.D).
type ScrollAxisKind int

const (
	ScrollContinuous ScrollAxisKind = iota
	ScrollDiscrete
)

type InputEvent struct {
	AttachmentID uint64         `json:"attachment_id"`
	Kind         InputKind      `json:"kind"`
	KeyCode      uint32         `json:"key_code,omitempty"`
	Pressed      bool           `json:"pressed,omitempty"`
	Button       uint32         `json:"button,omitempty"`
	X            float64        `json:"x,omitempty"`
	Y            float64        `json:"y,omitempty"`
	DX           float64        `json:"dx,omitempty"`
	DY           float64        `json:"dy,omitempty"`
	ScrollAxis   ScrollAxisKind `json:"scroll_axis,omitempty"`
	GamepadID    uint32         `json:"gamepad_id,omitempty"`
}

type CursorUpdate struct {
	AttachmentID uint64  `json:"attachment_id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
}

type LockPointer struct {
	AttachmentID uint64 `json:"attachment_id"`
}

type ReleasePointer struct {
	AttachmentID uint64 `json:"attachment_id"`
}

// FECMetadata describes the parity block covering a frame's chunks, carried
// only on chunks with chunk_index in the parity range.
type FECMetadata struct {
	BlockDataShards   uint32 `json:"block_data_shards"`
	BlockParityShards uint32 `json:"block_parity_shards"`
	ShardSize         uint32 `json:"shard_size"`
}

// Chunk is the semantic layout of spec.md §6's VideoChunk/AudioChunk: one
// datagram-sized fragment of an encoded frame. Data is a zero-copy borrow
// of the encoder's output buffer (reference-counted upstream, see
// internal/encode), never mutated after construction.
type Chunk struct {
	SessionID    uint64
	AttachmentID uint64
	StreamSeq    uint64
	Seq          uint64
	ChunkIndex   uint32
	NumChunks    uint32
	Timestamp    time.Duration
	IsVideo      bool
	IsKeyframe   bool
	FEC          *FECMetadata
	Data         []byte
}

// IsParity reports whether this chunk occupies the parity index range
// [num_chunks-parity_count, num_chunks) described by FEC.
func (c *Chunk) IsParity() bool {
	return c.FEC != nil && uint32(c.ChunkIndex) >= c.NumChunks-c.FEC.BlockParityShards
}
