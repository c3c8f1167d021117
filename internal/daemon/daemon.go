// Package daemon wires the application registry, the global session table,
// and the per-session Reactor goroutines together behind the transport.Host
// interface (spec §5: "The QUIC server holds the session table by shared
// reference but never participates in GPU work"). It generalizes the
// teacher's internal/call.Manager, which held a similar
// id-to-goroutine map for in-progress calls, to the streaming core's
// session lifecycle: LaunchSession starts a child process plus a Reactor,
// Attach/Detach/ForwardInput/RequestVideoRefresh route to the owning
// Reactor, and EndSession tears both down.
//
// transport.Host speaks uint64 session/attachment ids, matching the wire
// protocol; sessiontable.Table keys sessions by string id, generalizing the
// teacher's peer-id keying. Daemon is the only place that translates
// between the two id spaces.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/magicmirror/mmcore/internal/applog"
	"github.com/magicmirror/mmcore/internal/audio"
	"github.com/magicmirror/mmcore/internal/child"
	"github.com/magicmirror/mmcore/internal/config"
	"github.com/magicmirror/mmcore/internal/display"
	"github.com/magicmirror/mmcore/internal/encode"
	"github.com/magicmirror/mmcore/internal/gpux"
	"github.com/magicmirror/mmcore/internal/metrics"
	"github.com/magicmirror/mmcore/internal/reactor"
	"github.com/magicmirror/mmcore/internal/sessiontable"
	"github.com/magicmirror/mmcore/internal/transport"
	"github.com/magicmirror/mmcore/internal/util"
	"github.com/magicmirror/mmcore/internal/wire"
)

var log = applog.Component("DAEMON")

// App describes one launchable application (spec §4.E "list_apps").
type App struct {
	Name string
	Path string
	Args []string
}

func codecFromConfig(name string) gpux.VideoCodec {
	switch name {
	case "h265", "hevc":
		return gpux.CodecH265
	case "av1":
		return gpux.CodecAV1
	default:
		return gpux.CodecH264
	}
}

// session is the daemon's bookkeeping for one live session, beyond what
// sessiontable.Entry tracks by string id.
type session struct {
	key     string
	reactor *reactor.Reactor
	proc    *child.Process
	disp    *display.Fake
	cancel  context.CancelFunc
}

// Daemon implements transport.Host (spec §5: "One thread per Session (the
// Reactor)").
type Daemon struct {
	cfg     config.Config
	gpu     *gpux.Context
	apps    map[string]App
	table   *sessiontable.Table
	metrics *metrics.Registry
	chunker *transport.Chunker

	mu       sync.Mutex
	nextID   uint64
	sessions map[uint64]*session
}

// New constructs a Daemon. apps is the static application registry read at
// startup; a future revision could reload it without a restart, but that is
// out of scope here.
func New(cfg config.Config, gpu *gpux.Context, apps []App, reg *metrics.Registry) *Daemon {
	registry := make(map[string]App, len(apps))
	for _, a := range apps {
		registry[a.Name] = a
	}
	return &Daemon{
		cfg:      cfg,
		gpu:      gpu,
		apps:     registry,
		table:    sessiontable.New(),
		metrics:  reg,
		chunker:  transport.NewChunker(cfg.Transport),
		sessions: make(map[uint64]*session),
	}
}

var _ transport.Host = (*Daemon)(nil)

func (d *Daemon) ListApps() []wire.AppDescriptor {
	out := make([]wire.AppDescriptor, 0, len(d.apps))
	for name := range d.apps {
		out = append(out, wire.AppDescriptor{Name: name})
	}
	return out
}

func (d *Daemon) ListSessions() []wire.SessionDescriptor {
	d.mu.Lock()
	snapshot := make(map[uint64]*session, len(d.sessions))
	for id, s := range d.sessions {
		snapshot[id] = s
	}
	d.mu.Unlock()

	entries := d.table.Snapshot()
	out := make([]wire.SessionDescriptor, 0, len(snapshot))
	for id, s := range snapshot {
		e, ok := entries[s.key]
		if !ok || e.Status == sessiontable.StatusDefunct {
			continue
		}
		mode := s.disp.Mode()
		out = append(out, wire.SessionDescriptor{
			SessionID: id,
			App:       e.AppID,
			Display: wire.DisplayParams{
				Width:     uint32(mode.Width),
				Height:    uint32(mode.Height),
				Framerate: uint32(mode.Framerate),
			},
			Attachments: s.reactor.AttachmentCount(),
		})
	}
	return out
}

// LaunchSession starts the named application's child process, a virtual
// display and audio source standing in for the out-of-scope
// display-server-dispatch and audio-mixer-dispatch collaborators, and the
// session's Reactor goroutine (spec §4.D "Session Reactor").
func (d *Daemon) LaunchSession(appName string, disp wire.DisplayParams) (uint64, error) {
	name, err := util.ValidateAppName(appName)
	if err != nil {
		return 0, err
	}
	app, ok := d.apps[name]
	if !ok {
		return 0, fmt.Errorf("daemon: unknown app %q", name)
	}

	mode := display.Mode{Width: int(disp.Width), Height: int(disp.Height), Framerate: int(disp.Framerate)}
	if mode.Width == 0 {
		mode.Width = 1920
	}
	if mode.Height == 0 {
		mode.Height = 1080
	}
	if mode.Framerate == 0 {
		mode.Framerate = 60
	}

	sessionKey := uuid.NewString()
	sockPath := filepath.Join(os.TempDir(), "mm-"+sessionKey+".sock")

	proc, err := child.Start(child.Spec{
		Path:          app.Path,
		Args:          app.Args,
		DisplaySock:   sockPath,
		DisplayEnvVar: "MM_DISPLAY_SOCK",
	}, sockPath)
	if err != nil {
		return 0, fmt.Errorf("daemon: start app %q: %w", name, err)
	}

	readyCtx, cancelReady := context.WithTimeout(context.Background(), d.cfg.Session.ReadyTimeout)
	err = proc.WaitReady(readyCtx, d.cfg.Session.ReadyTimeout)
	cancelReady()
	if err != nil {
		proc.Kill()
		proc.Close()
		return 0, fmt.Errorf("daemon: app %q did not become ready: %w", name, err)
	}

	dispFake := display.NewFake(mode)
	audSrc := audio.NewFake()

	id := atomic.AddUint64(&d.nextID, 1)
	ctx, cancel := context.WithCancel(context.Background())

	codec := codecFromConfig(d.cfg.Encode.Codec)
	var r *reactor.Reactor
	factory := reactor.NewEncodePipelineFactory(ctx, d.gpu, d.cfg.Encode.GOPSize, d.cfg.Encode.GOPLayers, d.cfg.Encode.DPBSlots, codec,
		d.makeFrameSink(id, func() *reactor.Reactor { return r }))

	r = reactor.New(sessionKey, dispFake, audSrc, proc, factory, mode.Framerate, d.onSessionEnded(id, sessionKey))

	d.table.Upsert(sessiontable.Entry{SessionID: sessionKey, AppID: name, Status: sessiontable.StatusRunning})

	d.mu.Lock()
	d.sessions[id] = &session{key: sessionKey, reactor: r, proc: proc, disp: dispFake, cancel: cancel}
	count := len(d.sessions)
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.SetSessions(count)
	}

	go r.Run(ctx)

	log.Printf("launched session %d (%s) app=%s", id, sessionKey, name)
	return id, nil
}

// makeFrameSink returns the callback wired into the session's encode
// pipeline writer (spec §4.B "Encode output writer" feeding spec §4.E's
// chunk/FEC/datagram stage). It chunks every non-header frame and
// broadcasts the resulting wire.Chunks to every attachment via
// Reactor.Broadcast. A single per-session sequence counter is used rather
// than one per attachment, consistent with the single-attachment
// restriction this build asserts (spec Non-goals: "No multi-attachment with
// divergent parameters in one session"); seq starts at 0 and stream_seq/
// attachment_id are read fresh from the Reactor on every frame so a resize
// mid-session is reflected on the very next emitted chunk (spec §3).
//
// getReactor is resolved lazily (not passed as *reactor.Reactor directly)
// because the Reactor doesn't exist yet when the pipeline factory — which
// captures this sink — is constructed.
func (d *Daemon) makeFrameSink(id uint64, getReactor func() *reactor.Reactor) func(encode.EncodedFrame) {
	var seq uint64
	return func(f encode.EncodedFrame) {
		if f.IsHeaderInsert {
			// Headers piggyback on the next keyframe's bitstream in this
			// build; out-of-band header delivery is future work.
			return
		}
		r := getReactor()
		if r == nil {
			return
		}
		streamSeq, attachmentID, _ := r.CurrentVideoStream()
		n := atomic.AddUint64(&seq, 1) - 1
		chunks, err := d.chunker.Chunk(transport.FrameInput{
			SessionID:         id,
			AttachmentID:      attachmentID,
			StreamSeq:         streamSeq,
			Seq:               n,
			Timestamp:         time.Duration(f.CaptureTimestamp),
			IsVideo:           true,
			IsKeyframe:        f.IsKeyframe,
			HierarchicalLayer: f.HierarchicalLayer,
			Data:              f.Data,
		})
		if err != nil {
			log.Warnf("session %d: chunk frame: %v", id, err)
			return
		}
		for _, c := range chunks {
			env, err := wire.Encode(wire.TagVideoChunk, c)
			if err != nil {
				continue
			}
			r.Broadcast(env)
		}
	}
}

// onSessionEnded is the Reactor's crash/exit callback (spec §4.D). It must
// remove the session from d.sessions synchronously, the same as EndSession
// does, so a new Attach arriving right after a crash fails fast against
// d.lookup instead of being handed to a Reactor whose Run loop has already
// returned.
func (d *Daemon) onSessionEnded(id uint64, key string) func(reason string) {
	return func(reason string) {
		log.Printf("session %d (%s) ended: %s", id, key, reason)
		d.table.MarkDefunct(key)

		d.mu.Lock()
		s, ok := d.sessions[id]
		if ok {
			delete(d.sessions, id)
		}
		count := len(d.sessions)
		d.mu.Unlock()
		if !ok {
			return
		}
		if d.metrics != nil {
			d.metrics.SetSessions(count)
		}
		s.cancel()
	}
}

func (d *Daemon) lookup(sessionID uint64) (*session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[sessionID]
	return s, ok
}

func (d *Daemon) EndSession(sessionID uint64) error {
	d.mu.Lock()
	s, ok := d.sessions[sessionID]
	if ok {
		delete(d.sessions, sessionID)
	}
	count := len(d.sessions)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("daemon: session %d not found", sessionID)
	}
	if d.metrics != nil {
		d.metrics.SetSessions(count)
	}
	s.reactor.Stop("end_session requested")
	s.cancel()
	d.table.MarkDefunct(s.key)
	return nil
}

func (d *Daemon) Attach(sessionID uint64, req wire.Attach, send chan<- wire.Envelope) (<-chan reactor.AttachResult, error) {
	s, ok := d.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("daemon: session %d not found", sessionID)
	}
	return s.reactor.Attach(req, send), nil
}

func (d *Daemon) Detach(sessionID, attachmentID uint64) {
	if s, ok := d.lookup(sessionID); ok {
		s.reactor.Detach(attachmentID)
	}
}

func (d *Daemon) RequestVideoRefresh(sessionID, attachmentID, streamSeq uint64) {
	if s, ok := d.lookup(sessionID); ok {
		s.reactor.RequestVideoRefresh(attachmentID, streamSeq)
	}
}

func (d *Daemon) UpdateSessionDisplayParams(sessionID uint64, disp wire.DisplayParams) error {
	s, ok := d.lookup(sessionID)
	if !ok {
		return fmt.Errorf("daemon: session %d not found", sessionID)
	}
	s.reactor.UpdateDisplayParams(display.Mode{
		Width:     int(disp.Width),
		Height:    int(disp.Height),
		Framerate: int(disp.Framerate),
	})
	return nil
}

func (d *Daemon) ForwardInput(sessionID uint64, evt wire.InputEvent) error {
	s, ok := d.lookup(sessionID)
	if !ok {
		return fmt.Errorf("daemon: session %d not found", sessionID)
	}
	s.reactor.InjectInput(evt)
	return nil
}

// RunGC periodically sweeps idle and defunct sessions out of the table and
// out of the daemon's own id map (spec §7 kind 3 "Idle session GC", §5: "the
// entry is GC'd from the session table on the next server tick"). interval
// is the sweep period; cmd/magicmirrord runs this with a multi-second
// interval, tests with a short one.
func (d *Daemon) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			for _, s := range d.sessions {
				if s.reactor.AttachmentCount() > 0 {
					d.table.Touch(s.key)
				}
			}
			d.mu.Unlock()
			d.table.SweepIdle(time.Now().Add(-d.cfg.Session.IdleTimeout))
			removed := d.table.SweepDefunct()

			d.mu.Lock()
			if len(removed) > 0 {
				removedKeys := make(map[string]bool, len(removed))
				for _, k := range removed {
					removedKeys[k] = true
				}
				for id, s := range d.sessions {
					if removedKeys[s.key] {
						delete(d.sessions, id)
					}
				}
			}
			sessionCount := len(d.sessions)
			attachmentCount := 0
			for _, s := range d.sessions {
				attachmentCount += s.reactor.AttachmentCount()
			}
			d.mu.Unlock()

			if d.metrics != nil {
				d.metrics.SetSessions(sessionCount)
				d.metrics.SetAttachments(attachmentCount)
			}
		}
	}
}
