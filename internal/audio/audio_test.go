package audio

import (
	"testing"

	"github.com/magicmirror/mmcore/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestRingOverwritesOldestWhenFull(t *testing.T) {
	r := NewRing(3)
	for i := uint64(0); i < 5; i++ {
		r.Push(Frame{PTS: i})
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	require.EqualValues(t, 2, snap[0].PTS)
	require.EqualValues(t, 4, snap[2].PTS)
}

func TestRingLenTracksUntilFull(t *testing.T) {
	r := NewRing(4)
	require.Equal(t, 0, r.Len())
	r.Push(Frame{PTS: 1})
	require.Equal(t, 1, r.Len())
}

func TestFakeSourceDropsFramesUntilRestarted(t *testing.T) {
	f := NewFake()
	require.False(t, f.Inject(Frame{PTS: 1}))
	require.NoError(t, f.Restart(wire.AudioParams{SampleRate: 48000, Channels: 2}))
	require.True(t, f.Running())
	require.True(t, f.Inject(Frame{PTS: 2}))
	got := <-f.Frames()
	require.EqualValues(t, 2, got.PTS)
}

func TestFakeSourceStopMarksNotRunning(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.Restart(wire.AudioParams{SampleRate: 48000, Channels: 2}))
	require.NoError(t, f.Stop())
	require.False(t, f.Running())
}
