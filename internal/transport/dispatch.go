package transport

import (
	"context"
	"errors"
	"io"

	"github.com/quic-go/quic-go"

	"github.com/magicmirror/mmcore/internal/wire"
)

// handleStream reads the first protocol message on a newly opened
// bidirectional stream and dispatches it (spec §4.E "Stream demultiplex":
// "the handler receives decoded protocol messages one at a time and
// produces either reply messages on the reliable stream or datagrams on
// the unreliable channel"). attach is the one message type that keeps the
// stream open for the attachment's lifetime; every other tag is a single
// request/reply, after which the stream is closed from the server side
// once the reply has been flushed.
func (s *Server) handleStream(ctx context.Context, conn quic.Connection, stream quic.Stream) {
	env, err := wire.ReadEnvelope(stream)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Warnf("read first envelope: %v", err)
		}
		stream.Close()
		return
	}

	if env.Tag == wire.TagAttach {
		s.handleAttach(ctx, conn, stream, env)
		return
	}

	reply, replyErr := s.handleRequest(env)
	if replyErr != nil {
		s.writeError(stream, wire.ErrServer, replyErr.Error())
		stream.Close()
		return
	}
	if err := wire.WriteEnvelope(stream, reply.Tag, reply.payload); err != nil {
		log.Warnf("write reply: %v", err)
	}
	stream.Close()
}

// requestReply pairs a reply tag with the value to encode, letting
// handleRequest stay a flat switch without repeating WriteEnvelope calls.
type requestReply struct {
	Tag     wire.Tag
	payload any
}

func (s *Server) handleRequest(env wire.Envelope) (requestReply, error) {
	switch env.Tag {
	case wire.TagListApps:
		return requestReply{wire.TagListAppsReply, wire.ListAppsReply{Apps: s.host.ListApps()}}, nil

	case wire.TagListSessions:
		return requestReply{wire.TagListSessionsReply, wire.ListSessionsReply{Sessions: s.host.ListSessions()}}, nil

	case wire.TagLaunchSession:
		var req wire.LaunchSession
		if err := env.Decode(&req); err != nil {
			return requestReply{}, err
		}
		id, err := s.host.LaunchSession(req.App, req.Display)
		if err != nil {
			return requestReply{}, err
		}
		return requestReply{wire.TagLaunchSessionReply, wire.LaunchSessionReply{SessionID: id}}, nil

	case wire.TagEndSession:
		var req wire.EndSession
		if err := env.Decode(&req); err != nil {
			return requestReply{}, err
		}
		if err := s.host.EndSession(req.SessionID); err != nil {
			return requestReply{}, err
		}
		return requestReply{wire.TagError, wire.Error{Code: wire.ErrNone}}, nil

	case wire.TagUpdateSessionDisplayParams:
		var req wire.UpdateSessionDisplayParams
		if err := env.Decode(&req); err != nil {
			return requestReply{}, err
		}
		if err := s.host.UpdateSessionDisplayParams(req.SessionID, req.Display); err != nil {
			return requestReply{}, err
		}
		return requestReply{wire.TagError, wire.Error{Code: wire.ErrNone}}, nil

	default:
		return requestReply{}, errUnexpectedMessage
	}
}

var errUnexpectedMessage = errors.New("transport: unexpected message for a non-attach stream")

func (s *Server) writeError(stream quic.Stream, code wire.ErrorCode, text string) {
	if err := wire.WriteEnvelope(stream, wire.TagError, wire.Error{Code: code, Text: text}); err != nil {
		log.Warnf("write error reply: %v", err)
	}
}
