// Package display defines the virtual display-server collaborator the
// session reactor dispatches DISPLAY/ACCEPT protocol events to (spec §4.D).
// Production implementations wrap a real compositor protocol (Wayland or an
// X11-compatible server); Fake backs reactor and encode-pipeline tests
// without one.
package display

import "github.com/magicmirror/mmcore/internal/wire"

// Surface is one visible client surface the compositor reports, with its
// destination rectangle on the virtual output (spec §4.D tick step 2:
// "Collect visible surfaces with their destination rectangles").
type Surface struct {
	ID     uint64
	X, Y   int
	Width  int
	Height int
	Dirty  bool
}

// Mode is the virtual output's current size/framerate, set by
// UpdateSessionDisplayParams (spec §6) and read by the reactor when
// deciding whether a parameter change requires tearing down the pipeline.
type Mode struct {
	Width, Height int
	Framerate     int
}

// Server is the display-server collaborator interface (spec §4.D).
// ApplyMode, Surfaces, and FrameCallback are called from the reactor's
// single-threaded tick; DispatchPending is called when the DISPLAY poller
// source fires.
type Server interface {
	// DispatchPending processes one round of pending protocol requests
	// from connected clients (the DISPLAY poller source).
	DispatchPending() error
	// Accept accepts a newly connecting application client socket (the
	// ACCEPT poller source).
	Accept() error
	// ApplyMode updates the virtual output's mode. Returns
	// (sizeOrRateChanged, error); the reactor tears down the encode
	// pipeline only when sizeOrRateChanged is true (spec §4.D tick step
	// 1: "Scale-only changes only notify and do not tear down").
	ApplyMode(Mode) (sizeOrRateChanged bool, err error)
	// Mode returns the current virtual output mode.
	Mode() Mode
	// Surfaces returns the currently visible surfaces in z-order.
	Surfaces() []Surface
	// FrameCallback notifies surfaces that the previous frame's
	// composite completed, so the app can paint the next one (spec §4.D
	// tick step 3).
	FrameCallback(surfaceID uint64)
	// InjectInput delivers a translated input event to the virtual
	// display's input machinery (spec §4.D "Input translation").
	InjectInput(wire.InputEvent) error
	// Ready reports whether the display is ready to accept pending
	// attach requests (spec §4.D tick step 4: "drain pending attach
	// requests if the display is ready and no resize is pending").
	Ready() bool
	// Close tears down the virtual display and any client connections.
	Close() error
}

// Fake is an in-memory Server used by reactor and pipeline tests.
type Fake struct {
	mode      Mode
	surfaces  []Surface
	ready     bool
	injected  []wire.InputEvent
	callbacks []uint64
}

// NewFake returns a ready Fake display with the given initial mode.
func NewFake(mode Mode) *Fake {
	return &Fake{mode: mode, ready: true}
}

func (f *Fake) DispatchPending() error { return nil }
func (f *Fake) Accept() error          { return nil }

func (f *Fake) ApplyMode(m Mode) (bool, error) {
	changed := m.Width != f.mode.Width || m.Height != f.mode.Height || m.Framerate != f.mode.Framerate
	f.mode = m
	return changed, nil
}

func (f *Fake) Mode() Mode { return f.mode }

func (f *Fake) SetSurfaces(s []Surface) { f.surfaces = s }

func (f *Fake) Surfaces() []Surface { return f.surfaces }

func (f *Fake) FrameCallback(surfaceID uint64) {
	f.callbacks = append(f.callbacks, surfaceID)
}

func (f *Fake) Callbacks() []uint64 { return f.callbacks }

func (f *Fake) InjectInput(ev wire.InputEvent) error {
	f.injected = append(f.injected, ev)
	return nil
}

func (f *Fake) InjectedEvents() []wire.InputEvent { return f.injected }

func (f *Fake) Ready() bool { return f.ready }

func (f *Fake) SetReady(ready bool) { f.ready = ready }

func (f *Fake) Close() error { return nil }
