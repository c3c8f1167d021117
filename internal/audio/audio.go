// Package audio provides the session's audio tick collaborator: a PCM
// capture source restarted at attach time with the requested sample
// rate/channel count (spec §4.D "On Attach ... restart the audio stream at
// the requested parameters"), and a small ring buffer generalizing the
// teacher's internal/util.RingBuffer[T] to fixed-size interleaved PCM
// frames rather than arbitrary values.
package audio

import (
	"sync"

	"github.com/magicmirror/mmcore/internal/util"
	"github.com/magicmirror/mmcore/internal/wire"
)

// Frame is one interleaved PCM frame captured at the stream's sample rate.
type Frame struct {
	PTS  uint64
	Data []byte
}

// Source is the audio capture collaborator. Production implementations
// wrap a platform capture API (PulseAudio/PipeWire monitor source); Fake
// backs tests.
type Source interface {
	// Restart (re)starts capture at the given parameters, tearing down
	// any previous stream first.
	Restart(params wire.AudioParams) error
	// Stop halts capture (spec §4.D "Detach / Shutdown": "stop audio").
	Stop() error
	// Frames delivers captured PCM frames until Stop is called.
	Frames() <-chan Frame
}

// Ring is a small bounded buffer of recent audio frames, used to smooth
// capture-to-encode jitter before frames are handed to the packetizer. A
// thin alias over the teacher's internal/util.RingBuffer[T] instantiated
// for Frame, rather than a second hand-rolled circular buffer.
type Ring = util.RingBuffer[Frame]

// NewRing creates a Ring holding up to capacity frames.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 8
	}
	return util.NewRingBuffer[Frame](capacity)
}

// Fake is an in-memory Source used by reactor tests.
type Fake struct {
	mu      sync.Mutex
	params  wire.AudioParams
	running bool
	frames  chan Frame
}

// NewFake returns a stopped Fake source.
func NewFake() *Fake { return &Fake{frames: make(chan Frame, 32)} }

func (f *Fake) Restart(params wire.AudioParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = params
	f.running = true
	return nil
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *Fake) Frames() <-chan Frame { return f.frames }

// Inject delivers a synthetic frame for tests, if the source is running.
func (f *Fake) Inject(frame Frame) bool {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if !running {
		return false
	}
	f.frames <- frame
	return true
}

// Params returns the last Restart parameters.
func (f *Fake) Params() wire.AudioParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params
}

// Running reports whether the fake source is currently started.
func (f *Fake) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
