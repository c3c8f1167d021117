package gpux

import (
	"context"
	"sync"
)

// backend is the device-side half of a timeline semaphore: the thing a
// TimelineSemaphore calls into to actually signal/wait/poll on GPU hardware.
// The cgo build supplies a Vulkan-backed implementation; NewHostTimeline
// supplies an in-process implementation so tests never need a GPU.
type timelineBackend interface {
	wait(value uint64) error
	signal(value uint64) error
	currentValue() (uint64, error)
}

// TimelineSemaphore is the owned handle described in spec §4.A: "Exposes
// new_point(initial) returning an owned point handle, point + k producing a
// new point on the same timeline, point.wait() blocking until the device
// signals >= that value, point.signal() host-signalling, point.poll()
// non-blocking test." One TimelineSemaphore tracks one monotonically
// increasing counter; TimelinePoint values are just uint64s against it,
// immutable and freely shareable (spec §9: "Each point is an immutable,
// freely-shareable handle with an integer value").
type TimelineSemaphore struct {
	backend timelineBackend
}

// TimelinePoint is a value on a particular TimelineSemaphore's counter.
type TimelinePoint struct {
	sem   *TimelineSemaphore
	Value uint64
}

// NewPoint returns the owned point handle for initial (spec §4.A:
// new_point(initial)).
func (s *TimelineSemaphore) NewPoint(initial uint64) TimelinePoint {
	return TimelinePoint{sem: s, Value: initial}
}

// Plus produces a new point k ticks ahead on the same timeline (spec §4.A:
// "point + k producing a new point on the same timeline").
func (p TimelinePoint) Plus(k uint64) TimelinePoint {
	return TimelinePoint{sem: p.sem, Value: p.Value + k}
}

// Wait blocks until the device has signalled a value >= p.Value.
func (p TimelinePoint) Wait() error {
	return p.sem.backend.wait(p.Value)
}

// WaitContext is Wait with cancellation, used by the reactor's tick loop so
// a session shutdown can abort an in-flight wait rather than blocking a
// goroutine forever on a wedged device.
func (p TimelinePoint) WaitContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.sem.backend.wait(p.Value) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signal host-signals the timeline to p.Value (spec §4.A: "point.signal()
// host-signalling").
func (p TimelinePoint) Signal() error {
	return p.sem.backend.signal(p.Value)
}

// Poll is a non-blocking test of whether the device has reached p.Value
// (spec §4.A: "point.poll() non-blocking test").
func (p TimelinePoint) Poll() (bool, error) {
	cur, err := p.sem.backend.currentValue()
	if err != nil {
		return false, err
	}
	return cur >= p.Value, nil
}

// hostTimeline is an in-process timelineBackend used by unit tests of
// higher layers (encode pipeline, reactor) that need a
// TimelineSemaphore without a real device.
type hostTimeline struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current uint64
	lost    bool
}

// NewHostTimeline returns a TimelineSemaphore backed by an in-process
// counter rather than a device. Used directly by tests; the non-cgo stub
// allocator does not create timelines.
func NewHostTimeline(initial uint64) *TimelineSemaphore {
	h := &hostTimeline{current: initial}
	h.cond = sync.NewCond(&h.mu)
	return &TimelineSemaphore{backend: h}
}

func (h *hostTimeline) wait(value uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.current < value && !h.lost {
		h.cond.Wait()
	}
	if h.lost {
		return ErrDeviceLost
	}
	return nil
}

func (h *hostTimeline) signal(value uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return ErrDeviceLost
	}
	if value > h.current {
		h.current = value
	}
	h.cond.Broadcast()
	return nil
}

func (h *hostTimeline) currentValue() (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return 0, ErrDeviceLost
	}
	return h.current, nil
}

// MarkLost forces every past and future wait/signal/poll on this timeline to
// return ErrDeviceLost, simulating the irrecoverable-driver-error case for
// tests.
func (h *hostTimeline) MarkLost() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost = true
	h.cond.Broadcast()
}

// MarkLost simulates an irrecoverable driver error on a host-backed
// timeline. Panics if s was not created by NewHostTimeline — callers in
// production code never hold a host-backed semaphore, only tests do.
func (s *TimelineSemaphore) MarkLost() {
	s.backend.(*hostTimeline).MarkLost()
}
