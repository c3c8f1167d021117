package gpux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimelinePointPlusAndPoll(t *testing.T) {
	sem := NewHostTimeline(0)
	p0 := sem.NewPoint(0)
	p3 := p0.Plus(3)
	require.EqualValues(t, 3, p3.Value)

	done, err := p3.Poll()
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, p3.Signal())
	done, err = p3.Poll()
	require.NoError(t, err)
	require.True(t, done)
}

func TestTimelineWaitBlocksUntilSignalled(t *testing.T) {
	sem := NewHostTimeline(0)
	p := sem.NewPoint(5)

	var wg sync.WaitGroup
	wg.Add(1)
	var waitErr error
	go func() {
		defer wg.Done()
		waitErr = p.Wait()
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sem.NewPoint(5).Signal())
	wg.Wait()
	require.NoError(t, waitErr)
}

func TestTimelineWaitContextCanceled(t *testing.T) {
	sem := NewHostTimeline(0)
	p := sem.NewPoint(100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.WaitContext(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTimelineMarkLostFailsWaitsAndPolls(t *testing.T) {
	sem := NewHostTimeline(0)
	p := sem.NewPoint(1)
	sem.MarkLost()

	_, err := p.Poll()
	require.ErrorIs(t, err, ErrDeviceLost)

	err = p.Wait()
	require.ErrorIs(t, err, ErrDeviceLost)
}

func TestChooseBestPrefersDiscreteThenWidestCodecs(t *testing.T) {
	candidates := []DeviceInfo{
		{Name: "integrated-wide", IsDiscrete: false, SupportedCodecs: []VideoCodec{CodecH264, CodecH265, CodecAV1}},
		{Name: "discrete-narrow", IsDiscrete: true, SupportedCodecs: []VideoCodec{CodecH264}},
	}
	idx := ChooseBest(candidates)
	require.Equal(t, 1, idx)
	require.Equal(t, "discrete-narrow", candidates[idx].Name)
}

func TestChooseBestEmpty(t *testing.T) {
	require.Equal(t, -1, ChooseBest(nil))
}
