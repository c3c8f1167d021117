package transport

import (
	"errors"
	"testing"

	"github.com/magicmirror/mmcore/internal/reactor"
	"github.com/magicmirror/mmcore/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	apps     []wire.AppDescriptor
	sessions []wire.SessionDescriptor
	launchID uint64
	launchErr error
	endErr    error
	updateErr error
}

func (f *fakeHost) ListApps() []wire.AppDescriptor         { return f.apps }
func (f *fakeHost) ListSessions() []wire.SessionDescriptor  { return f.sessions }
func (f *fakeHost) LaunchSession(app string, d wire.DisplayParams) (uint64, error) {
	return f.launchID, f.launchErr
}
func (f *fakeHost) EndSession(id uint64) error { return f.endErr }
func (f *fakeHost) Attach(sessionID uint64, req wire.Attach, send chan<- wire.Envelope) (<-chan reactor.AttachResult, error) {
	return nil, errors.New("not used in this test")
}
func (f *fakeHost) Detach(sessionID, attachmentID uint64)                           {}
func (f *fakeHost) RequestVideoRefresh(sessionID, attachmentID, streamSeq uint64)    {}
func (f *fakeHost) UpdateSessionDisplayParams(id uint64, d wire.DisplayParams) error { return f.updateErr }
func (f *fakeHost) ForwardInput(sessionID uint64, evt wire.InputEvent) error         { return nil }

func envelopeFor(t *testing.T, tag wire.Tag, v any) wire.Envelope {
	t.Helper()
	env, err := wire.Encode(tag, v)
	require.NoError(t, err)
	return env
}

func TestHandleRequestListApps(t *testing.T) {
	host := &fakeHost{apps: []wire.AppDescriptor{{Name: "terminal"}}}
	s := &Server{host: host}

	reply, err := s.handleRequest(envelopeFor(t, wire.TagListApps, wire.ListApps{}))
	require.NoError(t, err)
	require.Equal(t, wire.TagListAppsReply, reply.Tag)
	require.Equal(t, wire.ListAppsReply{Apps: host.apps}, reply.payload)
}

func TestHandleRequestLaunchSessionPropagatesError(t *testing.T) {
	host := &fakeHost{launchErr: errors.New("no such app")}
	s := &Server{host: host}

	_, err := s.handleRequest(envelopeFor(t, wire.TagLaunchSession, wire.LaunchSession{App: "bogus"}))
	require.Error(t, err)
}

func TestHandleRequestLaunchSessionReturnsID(t *testing.T) {
	host := &fakeHost{launchID: 42}
	s := &Server{host: host}

	reply, err := s.handleRequest(envelopeFor(t, wire.TagLaunchSession, wire.LaunchSession{App: "term"}))
	require.NoError(t, err)
	require.Equal(t, wire.TagLaunchSessionReply, reply.Tag)
	require.Equal(t, wire.LaunchSessionReply{SessionID: 42}, reply.payload)
}

func TestHandleRequestUnexpectedTagErrors(t *testing.T) {
	s := &Server{host: &fakeHost{}}
	_, err := s.handleRequest(envelopeFor(t, wire.TagKeepAlive, wire.KeepAlive{}))
	require.ErrorIs(t, err, errUnexpectedMessage)
}
