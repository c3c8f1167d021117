package packetring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertAnyOrderDrainsOnce(t *testing.T) {
	key := Key{StreamSeq: 1, Seq: 0}
	chunks := [][]byte{[]byte("aaa"), []byte("bb"), []byte("c")}

	order := []int{2, 0, 1}
	r := New(5)
	for _, idx := range order {
		_, err := r.Insert(key, uint32(idx), uint32(len(chunks)), chunks[idx])
		require.NoError(t, err)
	}

	out := r.DrainCompleted(1)
	require.Len(t, out, 1)
	require.Equal(t, "aaabbc", string(out[0].Bytes(3)))

	// draining again yields nothing: the packet was removed.
	require.Empty(t, r.DrainCompleted(1))
}

func TestInsertRandomOrderAlwaysReassembles(t *testing.T) {
	for trial := 0; trial < 20; trial++ {
		r := New(5)
		key := Key{StreamSeq: 1, Seq: uint64(trial)}
		n := 8
		data := make([][]byte, n)
		for i := range data {
			data[i] = []byte{byte('A' + i)}
		}
		order := rand.Perm(n)
		for _, idx := range order {
			_, err := r.Insert(key, uint32(idx), uint32(n), data[idx])
			require.NoError(t, err)
		}
		out := r.DrainCompleted(1)
		require.Len(t, out, 1)
		require.Equal(t, "ABCDEFGH", string(out[0].Bytes(uint32(n))))
	}
}

func TestDuplicateChunkRejected(t *testing.T) {
	r := New(5)
	key := Key{StreamSeq: 1, Seq: 0}
	_, err := r.Insert(key, 0, 2, []byte("a"))
	require.NoError(t, err)
	_, err = r.Insert(key, 0, 2, []byte("a-again"))
	require.ErrorIs(t, err, ErrDuplicateChunk)
}

func TestChunkIndexEqualNumChunksRejected(t *testing.T) {
	r := New(5)
	key := Key{StreamSeq: 1, Seq: 0}
	_, err := r.Insert(key, 2, 2, []byte("a"))
	require.ErrorIs(t, err, ErrChunkIndexOOB)
}

func TestNumChunksMismatchRejected(t *testing.T) {
	r := New(5)
	key := Key{StreamSeq: 1, Seq: 0}
	_, err := r.Insert(key, 0, 2, []byte("a"))
	require.NoError(t, err)
	_, err = r.Insert(key, 1, 3, []byte("b"))
	require.ErrorIs(t, err, ErrNumChunksMismatch)
}

func TestSingleChunkFrameNoParity(t *testing.T) {
	r := New(5)
	key := Key{StreamSeq: 1, Seq: 0}
	_, err := r.Insert(key, 0, 1, []byte("whole-frame"))
	require.NoError(t, err)
	out := r.DrainCompleted(1)
	require.Len(t, out, 1)
	require.EqualValues(t, 1, out[0].NumChunks)
	require.Equal(t, "whole-frame", string(out[0].Bytes(1)))
}

func TestOverDepthDropsOldestIncompleteNeverNewestComplete(t *testing.T) {
	r := New(3)
	// Three incomplete packets, oldest first by seq.
	for seq := uint64(0); seq < 3; seq++ {
		_, err := r.Insert(Key{StreamSeq: 1, Seq: seq}, 0, 2, []byte("x"))
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.Len())

	// A fourth, complete, newer packet pushes the ring over depth.
	_, err := r.Insert(Key{StreamSeq: 1, Seq: 3}, 0, 1, []byte("complete"))
	require.NoError(t, err)

	require.Equal(t, 3, r.Len())
	require.EqualValues(t, 1, r.Dropped())

	// seq=0 (the oldest incomplete) must be gone; the newest complete packet survives.
	_, ok := r.Lookup(Key{StreamSeq: 1, Seq: 0})
	require.False(t, ok)
	_, ok = r.Lookup(Key{StreamSeq: 1, Seq: 3})
	require.True(t, ok)
}

func TestDiscardThenDrainYieldsEmpty(t *testing.T) {
	r := New(5)
	key := Key{StreamSeq: 1, Seq: 0}
	_, err := r.Insert(key, 0, 1, []byte("a"))
	require.NoError(t, err)

	r.DiscardBefore(1)
	require.Empty(t, r.DrainCompleted(1))
}

func TestDrainStopsAtFirstIncomplete(t *testing.T) {
	r := New(5)
	_, err := r.Insert(Key{StreamSeq: 1, Seq: 0}, 0, 1, []byte("a"))
	require.NoError(t, err)
	// seq=1 left incomplete (missing chunk_index 1 of 2).
	_, err = r.Insert(Key{StreamSeq: 1, Seq: 1}, 0, 2, []byte("b"))
	require.NoError(t, err)
	_, err = r.Insert(Key{StreamSeq: 1, Seq: 2}, 0, 1, []byte("c"))
	require.NoError(t, err)

	out := r.DrainCompleted(1)
	require.Len(t, out, 1)
	require.Equal(t, "a", string(out[0].Bytes(1)))
}
