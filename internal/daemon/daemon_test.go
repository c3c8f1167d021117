package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/magicmirror/mmcore/internal/audio"
	"github.com/magicmirror/mmcore/internal/config"
	"github.com/magicmirror/mmcore/internal/display"
	"github.com/magicmirror/mmcore/internal/encode"
	"github.com/magicmirror/mmcore/internal/metrics"
	"github.com/magicmirror/mmcore/internal/reactor"
	"github.com/magicmirror/mmcore/internal/sessiontable"
	"github.com/magicmirror/mmcore/internal/wire"
)

// encodeFrame builds a minimal encoded frame on hierarchical layer 2, a
// layer the default config's fec_ratios table has no entry for, so the
// chunker emits exactly one data chunk with no parity to keep the test
// focused on stream_seq/attachment_id/seq threading.
func encodeFrame(t *testing.T, keyframe bool) encode.EncodedFrame {
	t.Helper()
	return encode.EncodedFrame{Data: []byte("frame-payload"), IsKeyframe: keyframe, HierarchicalLayer: 2}
}

type fakePipeline struct{}

func (fakePipeline) Begin() (any, error)                                             { return struct{}{}, nil }
func (fakePipeline) CompositeSurface(sf any, surface reactor.SurfaceInput, dest display.Surface) {}
func (fakePipeline) EndAndSubmit(sf any) error                                        { return nil }
func (fakePipeline) RequestRefresh()                                                  {}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.Session.ReadyTimeout = 50 * time.Millisecond
	d := New(cfg, nil, []App{{Name: "term", Path: "/bin/true"}}, metrics.New())
	return d
}

// insertSession wires a session directly into the daemon's table, the way
// LaunchSession would, but backed by fakes instead of a real child process
// and GPU pipeline, so attach/detach/end paths are exercisable without a
// device or subprocess.
func insertSession(t *testing.T, d *Daemon, id uint64) (key string, cancel context.CancelFunc) {
	t.Helper()
	key = "sess-" + time.Now().Format("150405.000000000")
	disp := display.NewFake(display.Mode{Width: 1280, Height: 720, Framerate: 30})
	aud := audio.NewFake()
	factory := func(mode display.Mode, video wire.VideoParams) (reactor.Pipeline, error) {
		return fakePipeline{}, nil
	}
	r := reactor.New(key, disp, aud, nil, factory, 30, d.onSessionEnded(id, key))
	ctx, cancelFn := context.WithCancel(context.Background())
	go r.Run(ctx)

	d.table.Upsert(sessiontable.Entry{SessionID: key, AppID: "term", Status: sessiontable.StatusRunning})
	d.mu.Lock()
	d.sessions[id] = &session{key: key, reactor: r, disp: disp, cancel: cancelFn}
	d.mu.Unlock()
	return key, cancelFn
}

func TestListAppsReturnsRegisteredApps(t *testing.T) {
	d := newTestDaemon(t)
	apps := d.ListApps()
	require.Len(t, apps, 1)
	require.Equal(t, "term", apps[0].Name)
}

func TestLaunchSessionRejectsUnknownApp(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.LaunchSession("no-such-app", wire.DisplayParams{})
	require.Error(t, err)
}

func TestAttachUnknownSessionErrors(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.Attach(999, wire.Attach{}, make(chan wire.Envelope, 1))
	require.Error(t, err)
}

func TestEndSessionUnknownErrors(t *testing.T) {
	d := newTestDaemon(t)
	require.Error(t, d.EndSession(999))
}

func TestUnknownSessionDetachAndRefreshAreNoopsForwardInputErrors(t *testing.T) {
	d := newTestDaemon(t)
	d.Detach(999, 1)
	d.RequestVideoRefresh(999, 1, 0)
	require.Error(t, d.ForwardInput(999, wire.InputEvent{}))
}

func TestAttachAndListSessionsReflectsLiveSession(t *testing.T) {
	d := newTestDaemon(t)
	_, cancel := insertSession(t, d, 7)
	defer cancel()

	send := make(chan wire.Envelope, 4)
	resultCh, err := d.Attach(7, wire.Attach{Video: wire.VideoParams{Codec: wire.CodecH264}}, send)
	require.NoError(t, err)

	select {
	case result := <-resultCh:
		require.NoError(t, result.Err)
	case <-time.After(time.Second):
		t.Fatal("attach did not complete")
	}

	sessions := d.ListSessions()
	require.Len(t, sessions, 1)
	require.Equal(t, uint64(7), sessions[0].SessionID)
	require.Equal(t, 1, sessions[0].Attachments)
}

func TestEndSessionRemovesFromTableAndSessionMap(t *testing.T) {
	d := newTestDaemon(t)
	key, cancel := insertSession(t, d, 3)
	defer cancel()

	require.NoError(t, d.EndSession(3))

	_, stillTracked := d.lookup(3)
	require.False(t, stillTracked)

	entry, ok := d.table.Get(key)
	require.True(t, ok)
	require.Equal(t, sessiontable.StatusDefunct, entry.Status)
}

func TestSessionEndedAttachFailsFastAfterCrash(t *testing.T) {
	d := newTestDaemon(t)
	key, cancel := insertSession(t, d, 9)
	defer cancel()

	d.onSessionEnded(9, key)("child crashed")

	_, ok := d.lookup(9)
	require.False(t, ok)

	_, err := d.Attach(9, wire.Attach{}, make(chan wire.Envelope, 1))
	require.Error(t, err)
}

func TestMakeFrameSinkThreadsStreamSeqAndAttachmentID(t *testing.T) {
	d := newTestDaemon(t)
	disp := display.NewFake(display.Mode{Width: 1280, Height: 720, Framerate: 30})
	aud := audio.NewFake()
	factory := func(mode display.Mode, video wire.VideoParams) (reactor.Pipeline, error) {
		return fakePipeline{}, nil
	}
	r := reactor.New("sess-sink", disp, aud, nil, factory, 30, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	send := make(chan wire.Envelope, 8)
	resultCh := r.Attach(wire.Attach{}, send)
	var attachmentID uint64
	select {
	case result := <-resultCh:
		require.NoError(t, result.Err)
		attachmentID = result.AttachmentID
	case <-time.After(time.Second):
		t.Fatal("attach did not complete")
	}
	<-send // drain the Attached confirmation

	sink := d.makeFrameSink(42, func() *reactor.Reactor { return r })
	sink(encodeFrame(t, false))
	sink(encodeFrame(t, false))

	var first, second wire.Chunk
	select {
	case env := <-send:
		require.NoError(t, env.Decode(&first))
	case <-time.After(time.Second):
		t.Fatal("no chunk emitted for first frame")
	}
	select {
	case env := <-send:
		require.NoError(t, env.Decode(&second))
	case <-time.After(time.Second):
		t.Fatal("no chunk emitted for second frame")
	}

	require.Equal(t, uint64(0), first.Seq)
	require.Equal(t, uint64(1), second.Seq)
	require.Equal(t, attachmentID, first.AttachmentID)
	require.Equal(t, attachmentID, second.AttachmentID)
}

func TestRunGCSweepsDefunctSessions(t *testing.T) {
	d := newTestDaemon(t)
	key, cancel := insertSession(t, d, 5)
	defer cancel()
	d.table.MarkDefunct(key)

	ctx, stop := context.WithCancel(context.Background())
	go d.RunGC(ctx, 20*time.Millisecond)
	defer stop()

	require.Eventually(t, func() bool {
		_, ok := d.lookup(5)
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}
