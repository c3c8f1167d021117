package encode

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/magicmirror/mmcore/internal/gpux"
	"github.com/stretchr/testify/require"
)

type fakeBitstreamReader struct {
	fail map[uint32]bool
}

func (f *fakeBitstreamReader) ReadEncoded(frameID uint32) ([]byte, error) {
	if f.fail[frameID] {
		return nil, fmt.Errorf("query pool status not COMPLETE")
	}
	return []byte(fmt.Sprintf("frame-%d", frameID)), nil
}

func TestWriterDeliversFramesInSubmissionOrder(t *testing.T) {
	enc := &Encoder{gop: NewHierarchicalP(4, 1), out: make(chan frameSubmission, submissionQueueDepth)}
	reader := &fakeBitstreamReader{}

	var got []EncodedFrame
	sink := func(f EncodedFrame) { got = append(got, f) }
	w := NewWriter(enc, reader, sink, 4)

	for i := 0; i < 3; i++ {
		desc := enc.gop.Next(uint64(i), false)
		sem := gpux.NewHostTimeline(0)
		pt := sem.NewPoint(1)
		require.NoError(t, pt.Signal())
		enc.out <- frameSubmission{desc: desc, signal: pt}
	}
	close(enc.out)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := w.Run(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.True(t, got[0].IsKeyframe)
	require.False(t, got[1].IsKeyframe)
}

func TestWriterAbortsOnQueryFailure(t *testing.T) {
	enc := &Encoder{gop: NewHierarchicalP(4, 1), out: make(chan frameSubmission, submissionQueueDepth)}
	reader := &fakeBitstreamReader{fail: map[uint32]bool{0: true}}
	w := NewWriter(enc, reader, func(EncodedFrame) {}, 4)

	desc := enc.gop.Next(0, false)
	sem := gpux.NewHostTimeline(0)
	pt := sem.NewPoint(1)
	require.NoError(t, pt.Signal())
	enc.out <- frameSubmission{desc: desc, signal: pt}
	close(enc.out)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := w.Run(ctx)
	require.Error(t, err)
}

func TestWriterInsertHeaderDeliveredAsOutOfBandItem(t *testing.T) {
	enc := &Encoder{gop: NewHierarchicalP(4, 1), out: make(chan frameSubmission, submissionQueueDepth)}
	reader := &fakeBitstreamReader{}

	var got []EncodedFrame
	w := NewWriter(enc, reader, func(f EncodedFrame) { got = append(got, f) }, 4)
	require.NoError(t, w.InsertHeader([]byte("sps-pps")))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	close(enc.out)
	_ = w.Run(ctx)

	require.NotEmpty(t, got)
	require.True(t, got[0].IsHeaderInsert)
	require.Equal(t, "sps-pps", string(got[0].HeaderBytes))
}
