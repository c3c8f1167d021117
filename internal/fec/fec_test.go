package fec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRecoverTwoMissingDataShards(t *testing.T) {
	data := [][]byte{
		[]byte("shard-one!!"),
		[]byte("shard-two!!"),
		[]byte("shard-three"),
		[]byte("shard-four!"),
	}
	const shardSize = 16
	enc, err := NewEncoder(len(data), 2, shardSize)
	require.NoError(t, err)

	parity, err := enc.Encode(data)
	require.NoError(t, err)
	require.Len(t, parity, 2)

	shards := make([][]byte, len(data)+2)
	dataLens := make([]int, len(data))
	for i, d := range data {
		padded := make([]byte, shardSize)
		copy(padded, d)
		shards[i] = padded
		dataLens[i] = len(d)
	}
	for i, p := range parity {
		shards[len(data)+i] = p
	}

	// Drop two data shards: recoverable because parity count (2) >= missing (2).
	shards[0] = nil
	shards[2] = nil
	require.True(t, CanRecover(enc.Block(), len(shards)-2))

	recovered, err := Recover(enc.Block(), shards, dataLens)
	require.NoError(t, err)
	for i, d := range data {
		require.True(t, bytes.Equal(d, recovered[i]), "shard %d mismatch", i)
	}
}

func TestCanRecoverFalseWhenTooManyMissing(t *testing.T) {
	block := Block{DataShards: 4, ParityShards: 1, ShardSize: 16}
	require.True(t, CanRecover(block, 4))  // 1 missing, 1 parity: ok
	require.False(t, CanRecover(block, 3)) // 2 missing, 1 parity: not ok
}

func TestRatioForLayerRoundsUpAndDefaultsToZero(t *testing.T) {
	ratios := map[int]float64{0: 0.5, 1: 0.25}
	require.Equal(t, 5, RatioForLayer(10, ratios, 0))
	require.Equal(t, 3, RatioForLayer(10, ratios, 1))
	require.Equal(t, 0, RatioForLayer(10, ratios, 2))
}

func TestNewEncoderZeroParityIsPassthrough(t *testing.T) {
	enc, err := NewEncoder(3, 0, 16)
	require.NoError(t, err)
	parity, err := enc.Encode([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Nil(t, parity)
}
