// Package reactor implements the single-threaded, per-session event loop
// (spec §4.D): a cooperative tick driven by a multi-source poller that owns
// the display-server state, the GPU encode pipeline, and the application
// child process. Its single-goroutine-owns-everything shape generalizes the
// teacher's internal/call.Manager dispatch loop (one goroutine draining a
// session map and a control channel) to a per-session reactor with a richer
// internal tick instead of a flat dispatch switch.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/magicmirror/mmcore/internal/applog"
	"github.com/magicmirror/mmcore/internal/audio"
	"github.com/magicmirror/mmcore/internal/child"
	"github.com/magicmirror/mmcore/internal/display"
	"github.com/magicmirror/mmcore/internal/wire"
)

var log = applog.Component("REACTOR")

// minRefreshInterval rate-limits forwarded keyframe requests (spec §7 kind
// 2, §8: "at most one per 10 s is forwarded to the encoder").
const minRefreshInterval = 10 * time.Second

// Pipeline is the subset of *encode.Pipeline the reactor depends on,
// extracted as an interface so ticks are testable without a GPU (spec
// §4.D tick step 2).
type Pipeline interface {
	CompositeSurface(sf any, surface SurfaceInput, dest display.Surface)
	Begin() (any, error)
	EndAndSubmit(sf any) error
	RequestRefresh()
}

// SurfaceInput is the minimal per-surface data the reactor forwards into
// the pipeline; kept abstract here so reactor tests don't need real
// gpux.Image handles.
type SurfaceInput struct {
	Dirty    bool
	IsDmaBuf bool
}

// PipelineFactory constructs a fresh pipeline for the current display mode
// and stream params, called when the reactor needs to (re)create the
// encode pipeline (spec §4.D tick step 1/2: torn down on resize, rebuilt on
// the first render after a reattach).
type PipelineFactory func(mode display.Mode, video wire.VideoParams) (Pipeline, error)

// Attachment is one client's live subscription to the session's media
// (spec GLOSSARY). The reactor only ever touches Send/VideoParams/
// AudioParams/StreamSeq from its own goroutine, so no locking is needed
// around an Attachment's fields once installed in the table.
type Attachment struct {
	ID          uint64
	Send        chan<- wire.Envelope
	Video       wire.VideoParams
	Audio       wire.AudioParams
	StreamSeq   uint64
	lastRefresh time.Time
}

// pendingDisplayChange is a deferred ApplyMode call, applied at the start
// of the next tick (spec §4.D tick step 1).
type pendingDisplayChange struct {
	mode display.Mode
}

// Reactor is the per-session event loop. All exported methods other than
// Run, Broadcast, AttachmentCount and CurrentVideoStream enqueue work onto
// the control channel the tick loop drains; those four only read the
// attachment table under mu, so callers never mutate reactor-owned state
// directly (spec §5: "One thread per
// Session ... All GPU submission for a session happens on this thread.").
type Reactor struct {
	sessionID string
	disp      display.Server
	aud       audio.Source
	proc      *child.Process
	factory   PipelineFactory

	framerate int

	control chan func()

	mu             sync.Mutex
	attachments    map[uint64]*Attachment
	nextAttachID   uint64
	pipeline       Pipeline
	pendingMode    *pendingDisplayChange
	needsNewPipeline bool
	videoStreamSeq uint64
	defunct        bool

	onSessionEnded func(reason string)
}

// New constructs a Reactor for one session. The caller starts Run in its
// own goroutine (spec §5 "One thread per Session").
func New(sessionID string, disp display.Server, aud audio.Source, proc *child.Process, factory PipelineFactory, framerate int, onSessionEnded func(reason string)) *Reactor {
	if framerate <= 0 {
		framerate = 30
	}
	return &Reactor{
		sessionID:      sessionID,
		disp:           disp,
		aud:            aud,
		proc:           proc,
		factory:        factory,
		framerate:      framerate,
		control:        make(chan func(), 32),
		attachments:    make(map[uint64]*Attachment),
		onSessionEnded: onSessionEnded,
	}
}

// enqueue posts fn to run on the reactor goroutine, blocking the caller
// until it has been accepted by the control channel (not until it runs).
func (r *Reactor) enqueue(fn func()) {
	r.control <- fn
}

// AttachResult is delivered on Attach's returned channel once the reactor
// goroutine has validated and installed (or rejected) the attachment.
type AttachResult struct {
	AttachmentID uint64
	Display      wire.DisplayParams
	Err          error
}

// Attach validates and installs a new attachment (spec §4.D "Attachment").
// The result is delivered asynchronously via the returned channel since the
// reactor only validates on its own goroutine.
func (r *Reactor) Attach(a wire.Attach, send chan<- wire.Envelope) <-chan AttachResult {
	resultCh := make(chan AttachResult, 1)
	r.enqueue(func() {
		mode := r.disp.Mode()
		if !videoParamsMatchDisplay(a.Video, mode) {
			resultCh <- AttachResult{Err: fmt.Errorf("%w: requested %dx%d@%d does not match display %dx%d@%d",
				errParamsNotSupported, a.Video.Width, a.Video.Height, a.Video.Framerate,
				mode.Width, mode.Height, mode.Framerate)}
			return
		}
		r.mu.Lock()
		id := r.nextAttachID
		r.nextAttachID++
		att := &Attachment{ID: id, Send: send, Video: a.Video, Audio: a.Audio, StreamSeq: r.videoStreamSeq}
		r.attachments[id] = att
		r.needsNewPipeline = true
		r.mu.Unlock()

		if err := r.aud.Restart(a.Audio); err != nil {
			log.Warnf("session %s: audio restart failed: %v", r.sessionID, err)
		}

		display := wire.DisplayParams{Width: uint32(mode.Width), Height: uint32(mode.Height), Framerate: uint32(mode.Framerate)}
		env, err := wire.Encode(wire.TagAttached, wire.Attached{
			SessionID:    a.SessionID,
			AttachmentID: id,
			Display:      display,
			Video:        a.Video,
			Audio:        a.Audio,
		})
		if err != nil {
			resultCh <- AttachResult{Err: err}
			return
		}
		send <- env
		resultCh <- AttachResult{AttachmentID: id, Display: display}
	})
	return resultCh
}

// errParamsNotSupported is returned by Attach when the requested video
// params don't match the display mode; transport maps it to
// wire.ErrAttachmentParamsNotSupported (spec §4.D, §6).
var errParamsNotSupported = fmt.Errorf("reactor: attachment params not supported")

// IsParamsNotSupported reports whether err is (or wraps) the attachment
// params mismatch rejected by Attach.
func IsParamsNotSupported(err error) bool {
	return errors.Is(err, errParamsNotSupported)
}

// videoParamsMatchDisplay reports whether a's requested resolution and
// framerate are compatible with mode. A zero field means "inherit the
// display's current value"; since superres is not implemented, a nonzero
// field must match exactly (spec §4.D: "validate that the video params
// match display params (resolution, framerate; superres not implemented)").
func videoParamsMatchDisplay(v wire.VideoParams, mode display.Mode) bool {
	if v.Width != 0 && v.Width != uint32(mode.Width) {
		return false
	}
	if v.Height != 0 && v.Height != uint32(mode.Height) {
		return false
	}
	if v.Framerate != 0 && v.Framerate != uint32(mode.Framerate) {
		return false
	}
	return true
}

// Detach removes an attachment; if it was the last one, audio stops and
// the pipeline is dropped (spec §4.D "Detach / Shutdown").
func (r *Reactor) Detach(attachmentID uint64) {
	r.enqueue(func() {
		r.mu.Lock()
		delete(r.attachments, attachmentID)
		empty := len(r.attachments) == 0
		r.mu.Unlock()

		if empty {
			r.aud.Stop()
			r.mu.Lock()
			r.pipeline = nil
			r.mu.Unlock()
		}
	})
}

// InjectInput forwards one client input event to the display-server
// collaborator on the reactor goroutine (spec §4.E: "client input arrives
// as reliable stream messages, E routes to the owning session's D, D
// translates to synthesized input events for the application").
func (r *Reactor) InjectInput(evt wire.InputEvent) {
	r.enqueue(func() {
		if err := r.disp.InjectInput(evt); err != nil {
			log.Warnf("session %s: inject input: %v", r.sessionID, err)
		}
	})
}

// UpdateDisplayParams defers a display-parameter change to the next tick
// (spec §4.D tick step 1).
func (r *Reactor) UpdateDisplayParams(mode display.Mode) {
	r.enqueue(func() {
		r.mu.Lock()
		r.pendingMode = &pendingDisplayChange{mode: mode}
		r.mu.Unlock()
	})
}

// RequestVideoRefresh rate-limits and forwards a keyframe request for one
// attachment's current stream (spec §7 kind 2, §8).
func (r *Reactor) RequestVideoRefresh(attachmentID uint64, streamSeq uint64) {
	r.enqueue(func() {
		r.mu.Lock()
		att, ok := r.attachments[attachmentID]
		pipeline := r.pipeline
		r.mu.Unlock()
		if !ok || att.StreamSeq != streamSeq {
			return
		}
		if time.Since(att.lastRefresh) < minRefreshInterval {
			return
		}
		att.lastRefresh = time.Now()
		if pipeline != nil {
			pipeline.RequestRefresh()
		}
	})
}

// Stop signals every attachment, tears down the pipeline, kills the child,
// and exits the tick loop (spec §4.D, §5 "Cancellation").
func (r *Reactor) Stop(reason string) {
	r.enqueue(func() {
		r.broadcastSessionEnded(reason)
		r.mu.Lock()
		r.pipeline = nil
		r.mu.Unlock()
		r.shutdown(reason)
	})
}

func (r *Reactor) shutdown(reason string) {
	r.mu.Lock()
	r.defunct = true
	r.mu.Unlock()
	r.aud.Stop()
	if r.proc != nil {
		r.proc.Terminate(2 * time.Second)
	}
	r.disp.Close()
	if r.onSessionEnded != nil {
		r.onSessionEnded(reason)
	}
}

// Run is the tick loop; it blocks until ctx is cancelled, Stop is called,
// or the child exits (spec §5 "One thread per Session").
func (r *Reactor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(r.framerate))
	defer ticker.Stop()
	idleTicker := time.NewTicker(time.Second)
	defer idleTicker.Stop()

	var childLines <-chan string
	var childExited <-chan struct{}
	if r.proc != nil {
		childLines = r.proc.Lines()
		childExited = r.proc.Exited()
	}

	for {
		r.mu.Lock()
		defunct := r.defunct
		r.mu.Unlock()
		if defunct {
			return
		}

		select {
		case <-ctx.Done():
			r.shutdown("context canceled")
			return
		case fn := <-r.control:
			fn()
		case <-ticker.C:
			r.tickThrottled()
		case <-idleTicker.C:
			r.tickIdleRate()
		case line := <-childLines:
			log.Printf("session %s child: %s", r.sessionID, line)
		case <-childExited:
			r.broadcastSessionEnded("child exited")
			r.shutdown("child exited")
			return
		}
	}
}

// tickThrottled runs the render-clock tick (spec §4.D poller source TIMER:
// "period = 1/framerate; when no attachment, throttled to 1 Hz" — the 1 Hz
// fallback is handled by tickIdleRate instead of this ticker when there are
// no attachments, so this call is a no-op in that case).
func (r *Reactor) tickThrottled() {
	r.mu.Lock()
	hasAttachments := len(r.attachments) > 0
	r.mu.Unlock()
	if hasAttachments {
		r.tick()
	}
}

func (r *Reactor) tickIdleRate() {
	r.mu.Lock()
	hasAttachments := len(r.attachments) > 0
	r.mu.Unlock()
	if !hasAttachments {
		r.tick()
	}
}

// tick runs the four-step body (spec §4.D "Tick behavior").
func (r *Reactor) tick() {
	r.applyPendingDisplayChange()
	r.render()
	r.runIdle()
}

func (r *Reactor) applyPendingDisplayChange() {
	r.mu.Lock()
	pending := r.pendingMode
	r.pendingMode = nil
	r.mu.Unlock()
	if pending == nil {
		return
	}

	changed, err := r.disp.ApplyMode(pending.mode)
	if err != nil {
		log.Warnf("session %s: apply display mode: %v", r.sessionID, err)
		return
	}

	display := wire.DisplayParams{Width: uint32(pending.mode.Width), Height: uint32(pending.mode.Height), Framerate: uint32(pending.mode.Framerate)}

	if changed {
		r.mu.Lock()
		r.videoStreamSeq++
		r.pipeline = nil
		r.needsNewPipeline = true
		atts := make([]*Attachment, 0, len(r.attachments))
		for _, a := range r.attachments {
			atts = append(atts, a)
			a.StreamSeq = r.videoStreamSeq
		}
		r.mu.Unlock()
		r.broadcastParametersChanged(atts, display, true)
	} else {
		r.mu.Lock()
		atts := make([]*Attachment, 0, len(r.attachments))
		for _, a := range r.attachments {
			atts = append(atts, a)
		}
		r.mu.Unlock()
		r.broadcastParametersChanged(atts, display, false)
	}
}

func (r *Reactor) broadcastParametersChanged(atts []*Attachment, display wire.DisplayParams, reattachRequired bool) {
	env, err := wire.Encode(wire.TagSessionParametersChanged, wire.SessionParametersChanged{
		Display:          display,
		ReattachRequired: reattachRequired,
	})
	if err != nil {
		log.Warnf("session %s: encode SessionParametersChanged: %v", r.sessionID, err)
		return
	}
	for _, a := range atts {
		a.Send <- env
	}
}

func (r *Reactor) render() {
	r.mu.Lock()
	hasAttachments := len(r.attachments) > 0
	needsNew := r.needsNewPipeline
	r.mu.Unlock()
	if !hasAttachments {
		return
	}

	if needsNew {
		mode := r.disp.Mode()
		pipeline, err := r.factory(mode, wire.VideoParams{})
		if err != nil {
			log.Warnf("session %s: pipeline construction failed: %v", r.sessionID, err)
			return
		}
		r.mu.Lock()
		r.pipeline = pipeline
		r.needsNewPipeline = false
		r.mu.Unlock()
	}

	r.mu.Lock()
	pipeline := r.pipeline
	r.mu.Unlock()
	if pipeline == nil {
		return
	}

	surfaces := r.disp.Surfaces()
	sf, err := pipeline.Begin()
	if err != nil {
		return // ErrFrameNotReady or similar: skip this tick, preferred over blocking (spec §5).
	}
	for _, s := range surfaces {
		pipeline.CompositeSurface(sf, SurfaceInput{Dirty: s.Dirty}, s)
	}
	if err := pipeline.EndAndSubmit(sf); err != nil {
		log.Warnf("session %s: encode submit failed: %v", r.sessionID, err)
		return
	}
	for _, s := range surfaces {
		r.disp.FrameCallback(s.ID)
	}
}

func (r *Reactor) runIdle() {
	resizePending := func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.pendingMode != nil
	}()
	if r.disp.Ready() && !resizePending {
		_ = r.disp.DispatchPending()
	}
}

func (r *Reactor) broadcastSessionEnded(reason string) {
	r.mu.Lock()
	atts := make([]*Attachment, 0, len(r.attachments))
	for _, a := range r.attachments {
		atts = append(atts, a)
	}
	r.mu.Unlock()
	env, err := wire.Encode(wire.TagSessionEnded, wire.SessionEnded{Reason: reason})
	if err != nil {
		log.Warnf("session %s: encode SessionEnded: %v", r.sessionID, err)
		return
	}
	for _, a := range atts {
		a.Send <- env
	}
	log.Printf("session %s ended: %s", r.sessionID, reason)
}

// Broadcast fans an encode-pipeline-originated envelope (VideoChunk /
// AudioChunk) out to every live attachment's send channel, dropping it for
// an attachment whose channel is full rather than blocking the caller (spec
// §4.B "Encode output writer" feeding spec §4.E's per-attachment delivery).
// Safe to call from the pipeline's own writer goroutine, not just the
// reactor goroutine, since it only reads the attachment table under mu.
func (r *Reactor) Broadcast(env wire.Envelope) {
	r.mu.Lock()
	atts := make([]*Attachment, 0, len(r.attachments))
	for _, a := range r.attachments {
		atts = append(atts, a)
	}
	r.mu.Unlock()
	for _, a := range atts {
		select {
		case a.Send <- env:
		default:
			log.Warnf("session %s: attachment %d send buffer full, dropping tag %d", r.sessionID, a.ID, env.Tag)
		}
	}
}

// AttachmentCount reports the number of live attachments, used by idle-GC
// accounting at the server level (spec §7 kind 3, "Idle session GC").
func (r *Reactor) AttachmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attachments)
}

// CurrentVideoStream returns the reactor's current video stream_seq (bumped
// on every decoder-reset-requiring display change, spec §3) plus the id of
// the live attachment, if any. This build supports only one attachment per
// session at a time (spec Non-goals), so the first attachment found is the
// only one; ok is false once there are none, e.g. between Detach and the
// session's idle-GC sweep.
func (r *Reactor) CurrentVideoStream() (streamSeq uint64, attachmentID uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attachments {
		return r.videoStreamSeq, a.ID, true
	}
	return r.videoStreamSeq, 0, false
}
