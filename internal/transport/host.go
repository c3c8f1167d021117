package transport

import (
	"github.com/magicmirror/mmcore/internal/reactor"
	"github.com/magicmirror/mmcore/internal/wire"
)

// Host is the session-lifecycle API stream handlers call into (spec §4.E:
// "list_apps, list_sessions, launch_session, end_session, attach,
// update_session_display_params, request_video_refresh"). internal/daemon
// supplies the concrete implementation, wiring the application registry and
// the per-session Reactor goroutines; Server itself never touches GPU or
// display state (spec §5: "The QUIC server holds the session table by
// shared reference but never participates in GPU work").
type Host interface {
	ListApps() []wire.AppDescriptor
	ListSessions() []wire.SessionDescriptor
	LaunchSession(app string, display wire.DisplayParams) (sessionID uint64, err error)
	EndSession(sessionID uint64) error

	// Attach forwards a client's Attach request to the owning session's
	// Reactor. The returned channel delivers the same AttachResult the
	// Reactor produces. send carries envelopes the Reactor pushes toward
	// this attachment (Attached/SessionParametersChanged/SessionEnded and,
	// once media starts flowing, VideoChunk/AudioChunk via the Server's own
	// datagram path set up separately).
	Attach(sessionID uint64, req wire.Attach, send chan<- wire.Envelope) (<-chan reactor.AttachResult, error)
	Detach(sessionID, attachmentID uint64)
	RequestVideoRefresh(sessionID, attachmentID, streamSeq uint64)
	UpdateSessionDisplayParams(sessionID uint64, display wire.DisplayParams) error
	ForwardInput(sessionID uint64, evt wire.InputEvent) error
}
