package display

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeScrollContinuousPassesThrough(t *testing.T) {
	require.EqualValues(t, 5, NormalizeScroll(0, 5, true))
}

func TestNormalizeScrollDiscreteUses120Unit(t *testing.T) {
	require.EqualValues(t, 120, NormalizeScroll(0, 1, false))
	require.EqualValues(t, -240, NormalizeScroll(0, -2, false))
}

func TestSuperscaleMatchesDisplayOverStream(t *testing.T) {
	require.InDelta(t, 2.0, Superscale(2160, 1080), 0.0001)
	require.InDelta(t, 1.0, Superscale(0, 0), 0.0001)
}

func TestScaleCursorAppliesSuperscale(t *testing.T) {
	x, y := ScaleCursor(100, 200, 2160, 1080)
	require.InDelta(t, 200, x, 0.0001)
	require.InDelta(t, 400, y, 0.0001)
}

func TestTranslateKeyMapsKnownCodes(t *testing.T) {
	require.EqualValues(t, 28, TranslateKey(13))
	require.EqualValues(t, 1, TranslateKey(27))
}

func TestTranslateKeyPassesThroughUnknown(t *testing.T) {
	require.EqualValues(t, 9999, TranslateKey(9999))
}
