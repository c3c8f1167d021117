package display

import "github.com/magicmirror/mmcore/internal/wire"

// wheel120 is the integer unit discrete wheel deltas are normalized to
// (spec §4.D: "discrete is converted to the integer 120-based unit").
const wheel120 = 120

// NormalizeScroll converts a continuous or discrete scroll delta into the
// 120-based discrete unit evdev/libinput consumers expect. Continuous
// deltas pass through unchanged; discrete deltas (one notch == 1) are
// multiplied up.
func NormalizeScroll(axis wire.ScrollAxisKind, delta float64, continuous bool) int32 {
	if continuous {
		return int32(delta)
	}
	return int32(delta * wheel120)
}

// Superscale returns the cursor-position scale factor for a stream whose
// client-visible height differs from the virtual display's real height
// (spec §4.D: "Cursor position is scaled by superscale = display_height /
// stream_height").
func Superscale(displayHeight, streamHeight int) float64 {
	if streamHeight == 0 {
		return 1
	}
	return float64(displayHeight) / float64(streamHeight)
}

// ScaleCursor applies Superscale to a cursor position reported in stream
// coordinates, returning the equivalent virtual-display coordinates.
func ScaleCursor(x, y float64, displayHeight, streamHeight int) (float64, float64) {
	s := Superscale(displayHeight, streamHeight)
	return x * s, y * s
}

// scancodeTable maps a protocol key code to an evdev
// scancode. Only a representative subset is listed; unmapped keys pass
// their protocol code through unchanged, matching how the reference
// compositor's input layer tolerates vendor-specific extended keys.
var scancodeTable = map[int32]int32{
	// ASCII/common keys -> evdev KEY_* (linux/input-event-codes.h).
	8:  14,  // backspace -> KEY_BACKSPACE
	9:  15,  // tab -> KEY_TAB
	13: 28,  // enter -> KEY_ENTER
	27: 1,   // escape -> KEY_ESC
	32: 57,  // space -> KEY_SPACE
}

// TranslateKey maps a protocol-level key code to an evdev scancode (spec
// §4.D: "Keyboard/pointer/gamepad events received from attachments are
// translated (protocol enums -> evdev scancodes)").
func TranslateKey(protocolCode int32) int32 {
	if sc, ok := scancodeTable[protocolCode]; ok {
		return sc
	}
	return protocolCode
}
