// Package fec generates and recovers forward-error-correction parity for
// video/audio frame chunks (spec §4.C, §4.E). It wraps
// github.com/klauspost/reedsolomon, the Reed-Solomon implementation already
// present in the pack's dependency surface (used by several media/transport
// repos for exactly this purpose), the way the Moonlight-style reference
// depacketizer in the retrieved material pairs an RTP reassembly queue with
// a ReedSolomon codec.
package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Block describes one frame's parity geometry: dataShards data chunks
// followed by parityShards parity chunks, each shard padded to shardSize.
type Block struct {
	DataShards   int
	ParityShards int
	ShardSize    int
}

// RatioForLayer returns the parity shard count for a frame with the given
// data shard count at hierarchical layer, using the per-layer redundancy
// ratio table (spec §4.E: "layer 0 ... highest ratio; higher layers
// optional"). A ratio of 0 means no parity is generated for that layer.
func RatioForLayer(dataShards int, ratios map[int]float64, layer int) int {
	ratio, ok := ratios[layer]
	if !ok || ratio <= 0 {
		return 0
	}
	parity := int(float64(dataShards)*ratio + 0.999999) // round up
	if parity < 1 {
		parity = 1
	}
	return parity
}

// Encoder generates parity shards for one frame's data chunks.
type Encoder struct {
	block Block
	rs    reedsolomon.Encoder
}

// NewEncoder builds an Encoder for the given geometry. Returns an Encoder
// with ParityShards==0 (a no-op passthrough) when parityShards is 0 — not
// every frame crosses the size/layer threshold that warrants FEC (spec
// §4.E: "For each frame above size > chunk_size, an optional block of
// parity chunks").
func NewEncoder(dataShards, parityShards, shardSize int) (*Encoder, error) {
	if parityShards == 0 {
		return &Encoder{block: Block{DataShards: dataShards, ShardSize: shardSize}}, nil
	}
	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: new encoder: %w", err)
	}
	return &Encoder{
		block: Block{DataShards: dataShards, ParityShards: parityShards, ShardSize: shardSize},
		rs:    rs,
	}, nil
}

// Encode pads dataChunks to the configured shard size and returns the
// parity shards to append after them. dataChunks must have exactly
// Block.DataShards entries.
func (e *Encoder) Encode(dataChunks [][]byte) ([][]byte, error) {
	if e.block.ParityShards == 0 {
		return nil, nil
	}
	shards := make([][]byte, e.block.DataShards+e.block.ParityShards)
	for i, c := range dataChunks {
		padded := make([]byte, e.block.ShardSize)
		copy(padded, c)
		shards[i] = padded
	}
	for i := e.block.DataShards; i < len(shards); i++ {
		shards[i] = make([]byte, e.block.ShardSize)
	}
	if err := e.rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: encode: %w", err)
	}
	return shards[e.block.DataShards:], nil
}

// Block returns the geometry this encoder was configured with.
func (e *Encoder) Block() Block { return e.block }

// Recover attempts to reconstruct missing data shards given a full shard
// set (data + parity) where missing entries are nil. dataLens gives the
// true (pre-padding) length of each data shard so padding can be trimmed
// after reconstruction. Returns the reconstructed data shards only.
func Recover(block Block, shards [][]byte, dataLens []int) ([][]byte, error) {
	if block.ParityShards == 0 {
		return nil, fmt.Errorf("fec: no parity configured for this block")
	}
	rs, err := reedsolomon.New(block.DataShards, block.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: new decoder: %w", err)
	}
	if err := rs.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("fec: reconstruct: %w", err)
	}
	out := make([][]byte, block.DataShards)
	for i := 0; i < block.DataShards; i++ {
		n := block.ShardSize
		if i < len(dataLens) && dataLens[i] > 0 {
			n = dataLens[i]
		}
		if n > len(shards[i]) {
			n = len(shards[i])
		}
		out[i] = shards[i][:n]
	}
	return out, nil
}

// CanRecover reports whether the number of present shards is enough to
// reconstruct the missing data shards (spec §8: "parity-count P >=
// missing-data-count M").
func CanRecover(block Block, present int) bool {
	missing := block.DataShards + block.ParityShards - present
	return missing <= block.ParityShards
}
