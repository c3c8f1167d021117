package packetring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/magicmirror/mmcore/internal/fec"
	"github.com/magicmirror/mmcore/internal/wire"
)

const recoveryShardSize = 8

// buildChunks encodes one frame's worth of data+parity wire.Chunks, each
// exactly recoveryShardSize bytes, the way internal/transport/chunker.go
// would for a video frame whose layer carries FEC redundancy.
func buildChunks(t *testing.T, data [][]byte, parityShards int) []wire.Chunk {
	t.Helper()
	enc, err := fec.NewEncoder(len(data), parityShards, recoveryShardSize)
	require.NoError(t, err)
	parity, err := enc.Encode(data)
	require.NoError(t, err)

	numChunks := uint32(len(data) + len(parity))
	fecMeta := &wire.FECMetadata{
		BlockDataShards:   uint32(len(data)),
		BlockParityShards: uint32(len(parity)),
		ShardSize:         recoveryShardSize,
	}

	var chunks []wire.Chunk
	for i, d := range data {
		chunks = append(chunks, wire.Chunk{
			StreamSeq: 1, Seq: 7, ChunkIndex: uint32(i), NumChunks: numChunks,
			IsVideo: true, FEC: fecMeta, Data: d,
		})
	}
	for i, p := range parity {
		chunks = append(chunks, wire.Chunk{
			StreamSeq: 1, Seq: 7, ChunkIndex: uint32(len(data) + i), NumChunks: numChunks,
			IsVideo: true, FEC: fecMeta, Data: p,
		})
	}
	return chunks
}

// TestInsertChunkRecoversFromDroppedDataShards exercises spec §8's testable
// property directly: drop any M <= P chunks from a FEC-protected frame and
// the frame still reassembles complete and byte-correct.
func TestInsertChunkRecoversFromDroppedDataShards(t *testing.T) {
	data := [][]byte{
		[]byte("AAAAAAAA"),
		[]byte("BBBBBBBB"),
		[]byte("CCCCCCCC"),
		[]byte("DDDDDDDD"),
	}
	chunks := buildChunks(t, data, 2)

	// Drop two data chunks: missing (2) <= parity (2), recoverable.
	var dropped []int
	keep := make([]wire.Chunk, 0, len(chunks))
	for i, c := range chunks {
		if i == 0 || i == 2 {
			dropped = append(dropped, i)
			continue
		}
		keep = append(keep, c)
	}
	require.Len(t, dropped, 2)
	require.Len(t, keep, len(chunks)-2)

	r := New(5)
	var last *Packet
	for _, c := range keep {
		c := c
		p, err := r.InsertChunk(&c)
		require.NoError(t, err)
		last = p
	}

	require.True(t, last.Complete())
	require.True(t, last.Recovered())

	out := r.DrainCompleted(1)
	require.Len(t, out, 1)
	require.Equal(t, "AAAAAAAABBBBBBBBCCCCCCCCDDDDDDDD", string(out[0].Bytes(0)))
}

// TestInsertChunkStaysIncompleteWhenTooManyShardsMissing confirms the ring
// does not falsely report completion when loss exceeds parity.
func TestInsertChunkStaysIncompleteWhenTooManyShardsMissing(t *testing.T) {
	data := [][]byte{
		[]byte("AAAAAAAA"),
		[]byte("BBBBBBBB"),
		[]byte("CCCCCCCC"),
		[]byte("DDDDDDDD"),
	}
	chunks := buildChunks(t, data, 2)

	// Drop three chunks: missing (3) > parity (2), unrecoverable.
	var keep []wire.Chunk
	for i, c := range chunks {
		if i == 0 || i == 1 || i == 2 {
			continue
		}
		keep = append(keep, c)
	}

	r := New(5)
	var last *Packet
	for _, c := range keep {
		c := c
		p, err := r.InsertChunk(&c)
		require.NoError(t, err)
		last = p
	}

	require.False(t, last.Complete())
	require.False(t, last.Recovered())
	require.Empty(t, r.DrainCompleted(1))
}
