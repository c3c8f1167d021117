package gpux

import "fmt"

// cbStatus mirrors the command-buffer recording state machine from the
// reference Vulkan driver's cmdBuffer type (driver-vk-cmd.go in the
// retrieved material): idle -> begun -> ended -> committed, with a
// dedicated failed state so a mid-recording error doesn't require the
// caller to unwind partially-recorded commands by hand.
type cbStatus int

const (
	cbIdle cbStatus = iota
	cbBegun
	cbEnded
	cbCommitted
	cbFailed
)

// cmdRecorder is the device-side half of a CommandBuffer: the calls that
// actually touch the driver. Implemented by a cgo-backed recorder in
// production builds and a no-op recorder in non-cgo builds.
type cmdRecorder interface {
	begin() error
	end() error
	reset() error
	submit(wait, signal TimelinePoint) error
}

// CommandBuffer is one recordable, resettable command buffer bound to a
// single queue family (spec §4.B: "one staging command buffer ..., one
// render command buffer", §4.A encode command buffer stages). Reused across
// frames by calling Reset then Begin again, the way a SwapFrame's two
// command buffers are reused every rotation rather than reallocated.
type CommandBuffer struct {
	recorder cmdRecorder
	status   cbStatus
	failErr  error
}

// Begin prepares the command buffer for recording. A no-op if already begun
// (idempotent the way the reference implementation tolerates a redundant
// Begin call).
func (cb *CommandBuffer) Begin() error {
	switch cb.status {
	case cbIdle:
		if err := cb.recorder.begin(); err != nil {
			return err
		}
		cb.status = cbBegun
		return nil
	case cbBegun:
		return nil
	case cbFailed:
		return cb.failErr
	default:
		return fmt.Errorf("gpux: Begin called on command buffer in status %d", cb.status)
	}
}

// End closes recording and makes the command buffer ready for Submit.
func (cb *CommandBuffer) End() error {
	switch cb.status {
	case cbBegun:
		if err := cb.recorder.end(); err != nil {
			cb.status = cbFailed
			cb.failErr = err
			return err
		}
		cb.status = cbEnded
		return nil
	case cbEnded:
		return nil
	case cbFailed:
		return cb.failErr
	default:
		return fmt.Errorf("gpux: End called on command buffer in status %d", cb.status)
	}
}

// Submit submits the ended command buffer to its queue, waiting on wait and
// signalling signal via timeline semaphores (spec §4.B/§4.A: cross-queue
// synchronization uses timeline semaphores exclusively; binary semaphores
// only at external dma-buf boundaries).
func (cb *CommandBuffer) Submit(wait, signal TimelinePoint) error {
	if cb.status != cbEnded {
		return fmt.Errorf("gpux: Submit called on command buffer in status %d, want ended", cb.status)
	}
	if err := cb.recorder.submit(wait, signal); err != nil {
		cb.status = cbFailed
		cb.failErr = err
		return err
	}
	cb.status = cbCommitted
	return nil
}

// Reset discards recorded commands and returns the command buffer to idle,
// ready for the next cycle's Begin.
func (cb *CommandBuffer) Reset() error {
	switch cb.status {
	case cbIdle:
		return nil
	default:
		if err := cb.recorder.reset(); err != nil {
			return err
		}
		cb.status = cbIdle
		cb.failErr = nil
		return nil
	}
}
