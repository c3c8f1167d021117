package transport

import (
	"testing"

	"github.com/magicmirror/mmcore/internal/config"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Transport {
	return config.Transport{
		MTU:               1100,
		ChunkHeaderBudget: 100,
		FECRatios: map[int]float64{
			0: 0.5,
			1: 0,
		},
	}
}

func TestChunkSplitsDataIntoPayloadSizedShards(t *testing.T) {
	c := NewChunker(testConfig())
	data := make([]byte, 2500)
	chunks, err := c.Chunk(FrameInput{IsVideo: true, HierarchicalLayer: 1, Data: data})
	require.NoError(t, err)
	// payloadCap = 1000, so 3 data shards, layer 1 has ratio 0 => no parity.
	require.Len(t, chunks, 3)
	for _, ch := range chunks {
		require.Nil(t, ch.FEC)
		require.EqualValues(t, 3, ch.NumChunks)
	}
}

func TestChunkAddsParityForLayerZeroVideo(t *testing.T) {
	c := NewChunker(testConfig())
	data := make([]byte, 2000)
	chunks, err := c.Chunk(FrameInput{IsVideo: true, HierarchicalLayer: 0, Data: data})
	require.NoError(t, err)
	// payloadCap = 1000, 2 data shards, ratio 0.5 => 1 parity shard.
	require.Len(t, chunks, 3)
	require.NotNil(t, chunks[0].FEC)
	require.True(t, chunks[2].IsParity())
	require.False(t, chunks[0].IsParity())
}

func TestChunkSkipsParityForAudio(t *testing.T) {
	c := NewChunker(testConfig())
	data := make([]byte, 2000)
	chunks, err := c.Chunk(FrameInput{IsVideo: false, HierarchicalLayer: 0, Data: data})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, ch := range chunks {
		require.Nil(t, ch.FEC)
	}
}

func TestChunkEmptyDataReturnsNoChunks(t *testing.T) {
	c := NewChunker(testConfig())
	chunks, err := c.Chunk(FrameInput{Data: nil})
	require.NoError(t, err)
	require.Nil(t, chunks)
}
