package transport

import (
	"context"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/magicmirror/mmcore/internal/reactor"
	"github.com/magicmirror/mmcore/internal/wire"
)

// handleAttach keeps a stream open for the lifetime of one attachment
// (spec §4.E: "attach ... returns a long-lived stream that carries control
// messages and receives attachment events"). Envelopes the owning
// Reactor pushes onto send are delivered either as stream replies or as
// datagrams, by tag (spec §6: video/audio chunks are datagrams, everything
// else is a reliable stream message).
func (s *Server) handleAttach(ctx context.Context, conn quic.Connection, stream quic.Stream, first wire.Envelope) {
	var req wire.Attach
	if err := first.Decode(&req); err != nil {
		s.writeError(stream, wire.ErrProtocol, err.Error())
		stream.Close()
		return
	}

	send := make(chan wire.Envelope, 64)
	resultCh, err := s.host.Attach(req.SessionID, req, send)
	if err != nil {
		s.writeError(stream, wire.ErrSessionNotFound, err.Error())
		stream.Close()
		return
	}

	var result reactor.AttachResult
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		stream.Close()
		return
	}
	if result.Err != nil {
		code := wire.ErrProtocol
		if reactor.IsParamsNotSupported(result.Err) {
			code = wire.ErrAttachmentParamsNotSupported
		}
		s.writeError(stream, code, result.Err.Error())
		stream.Close()
		return
	}

	attachCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.host.Detach(req.SessionID, result.AttachmentID)
	defer stream.Close()

	activity := make(chan struct{}, 1)
	readErrCh := make(chan error, 1)
	go s.readAttachmentMessages(attachCtx, stream, req.SessionID, result.AttachmentID, activity, readErrCh)

	keepalive := s.tcfg.AttachmentKeepalive
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	timer := time.NewTimer(keepalive)
	defer timer.Stop()

	for {
		select {
		case <-attachCtx.Done():
			return

		case err := <-readErrCh:
			if err != nil {
				log.Printf("session %d attachment %d: read: %v", req.SessionID, result.AttachmentID, err)
			}
			return

		case <-activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(keepalive)

		case env, ok := <-send:
			if !ok {
				return
			}
			if err := s.deliver(conn, stream, env); err != nil {
				log.Warnf("session %d attachment %d: deliver: %v", req.SessionID, result.AttachmentID, err)
				return
			}

		case <-timer.C:
			log.Printf("session %d attachment %d: keepalive timeout", req.SessionID, result.AttachmentID)
			return
		}
	}
}

// readAttachmentMessages is the per-attachment reader loop: it decodes
// messages the client sends on the reliable stream and routes them to the
// Host (spec §4.E: client-originated Detach, KeepAlive,
// RequestVideoRefresh, and input events).
func (s *Server) readAttachmentMessages(ctx context.Context, stream quic.Stream, sessionID, attachmentID uint64, activity chan<- struct{}, errCh chan<- error) {
	for {
		env, err := wire.ReadEnvelope(stream)
		if err != nil {
			errCh <- err
			return
		}

		select {
		case activity <- struct{}{}:
		default:
		}

		switch env.Tag {
		case wire.TagKeepAlive:
			// activity signal above already covers this.

		case wire.TagDetach:
			s.host.Detach(sessionID, attachmentID)
			errCh <- nil
			return

		case wire.TagRequestVideoRefresh:
			var req wire.RequestVideoRefresh
			if err := env.Decode(&req); err != nil {
				continue
			}
			s.host.RequestVideoRefresh(sessionID, attachmentID, req.StreamSeq)

		case wire.TagInputEvent:
			var evt wire.InputEvent
			if err := env.Decode(&evt); err != nil {
				continue
			}
			evt.AttachmentID = attachmentID
			if err := s.host.ForwardInput(sessionID, evt); err != nil {
				log.Warnf("session %d attachment %d: forward input: %v", sessionID, attachmentID, err)
			}

		default:
			log.Warnf("session %d attachment %d: unexpected tag %d on attach stream", sessionID, attachmentID, env.Tag)
		}
	}
}

// deliver writes one Reactor-originated envelope to the client: video/audio
// chunks go out as unreliable datagrams (spec §6), everything else as a
// reliable stream message.
func (s *Server) deliver(conn quic.Connection, stream quic.Stream, env wire.Envelope) error {
	if env.Tag == wire.TagVideoChunk || env.Tag == wire.TagAudioChunk {
		if err := conn.SendDatagram(append([]byte{byte(env.Tag)}, env.Payload...)); err != nil {
			log.Warnf("send datagram: %v", err)
		}
		return nil
	}
	return wire.WriteRawEnvelope(stream, env)
}
