package encode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHierarchicalPFirstFrameIsKeyframe(t *testing.T) {
	gop := NewHierarchicalP(8, 3)
	d := gop.Next(0, false)
	require.True(t, d.IsKeyframe)
	require.Empty(t, d.RefIDs)
}

func TestHierarchicalPClearsAndRestartsOnForceKeyframe(t *testing.T) {
	gop := NewHierarchicalP(4, 2)
	gop.Next(0, false)
	gop.Next(1, false)
	d := gop.Next(2, true)
	require.True(t, d.IsKeyframe, "forced refresh must produce a keyframe regardless of gop position")
}

func TestHierarchicalPNonKeyframesReferenceEarlierFrame(t *testing.T) {
	gop := NewHierarchicalP(4, 2)
	kf := gop.Next(0, false)
	require.True(t, kf.IsKeyframe)

	for i := uint64(1); i < 4; i++ {
		d := gop.Next(i, false)
		require.False(t, d.IsKeyframe)
		require.NotEmpty(t, d.RefIDs, "non-keyframe at position %d must reference a prior frame", i)
		for _, ref := range d.RefIDs {
			require.Less(t, ref, d.ID)
		}
	}
}

func TestHierarchicalPProducesNewKeyframeEveryGOPSize(t *testing.T) {
	gop := NewHierarchicalP(4, 1)
	var keyframes int
	for i := uint64(0); i < 12; i++ {
		d := gop.Next(i, false)
		if d.IsKeyframe {
			keyframes++
		}
	}
	require.Equal(t, 3, keyframes)
}

func TestHierarchicalPMonotonicIDs(t *testing.T) {
	gop := NewHierarchicalP(8, 3)
	var lastID int64 = -1
	for i := uint64(0); i < 20; i++ {
		d := gop.Next(i, false)
		require.Greater(t, int64(d.ID), lastID)
		lastID = int64(d.ID)
	}
}
