// Package packetring reassembles chunked, FEC-protected video/audio frames
// on the client side of the wire, with a bounded out-of-order window (spec
// §4.C). It generalizes the teacher's internal/util.RingBuffer[T] (a
// fixed-capacity, mutex-protected circular buffer) from an overwrite-oldest
// slice into an ordered-by-(stream_seq,seq) deque of in-progress packets,
// and borrows the depacketizer shape used by the Moonlight-style RTP
// reassembler in the reference material (per-frame chunk slot array plus a
// received/total count).
package packetring

import (
	"fmt"

	"github.com/magicmirror/mmcore/internal/fec"
)

// ErrDuplicateChunk, ErrNumChunksMismatch and ErrChunkIndexOOB are protocol
// errors (spec §4.C, §8 boundary cases): a duplicate chunk_index, num_chunks
// disagreeing with an already-open packet for the same (stream_seq, seq),
// or a chunk_index at or beyond num_chunks.
var (
	ErrDuplicateChunk     = fmt.Errorf("packetring: duplicate chunk")
	ErrNumChunksMismatch  = fmt.Errorf("packetring: num_chunks mismatch")
	ErrChunkIndexOOB      = fmt.Errorf("packetring: chunk_index >= num_chunks")
)

// Key identifies one in-progress packet by its (stream_seq, seq) pair.
type Key struct {
	StreamSeq uint64
	Seq       uint64
}

// Less orders keys by stream_seq then seq, the ring's sort order (spec §4.C).
func (k Key) Less(o Key) bool {
	if k.StreamSeq != o.StreamSeq {
		return k.StreamSeq < o.StreamSeq
	}
	return k.Seq < o.Seq
}

// ByteRange is one borrowed, zero-copy fragment of a reassembled frame.
type ByteRange []byte

// Packet is one in-progress or completed frame: a fixed-size slot array
// addressed by chunk_index, each slot either empty or holding a borrowed
// byte range (spec §4.C: "zero-copy ... supports position-advance reads").
// Slots [0, DataShards) hold data chunks; slots [DataShards, NumChunks)
// hold FEC parity chunks. DataShards defaults to NumChunks (every slot is
// a data slot) until setFEC records the sender's real block geometry from
// the first FEC-carrying chunk seen for this packet.
type Packet struct {
	Key          Key
	NumChunks    uint32
	DataShards   uint32
	ParityShards uint32
	ShardSize    uint32
	Pts          uint64
	IsKeyframe   bool
	slots        []ByteRange
	dataLens     []int
	filled       uint32 // total slots filled, data or parity
	dataFilled   uint32 // data slots filled, directly or via FEC recovery
	recovered    bool
}

func newPacket(key Key, numChunks uint32) *Packet {
	return &Packet{
		Key:        key,
		NumChunks:  numChunks,
		DataShards: numChunks,
		slots:      make([]ByteRange, numChunks),
		dataLens:   make([]int, numChunks),
	}
}

// setFEC records this packet's FEC block geometry the first time a
// FEC-carrying chunk arrives. A no-op once already set, since every chunk
// of one frame's block carries identical geometry.
func (p *Packet) setFEC(dataShards, parityShards, shardSize uint32) {
	if p.ParityShards != 0 || parityShards == 0 {
		return
	}
	p.DataShards = dataShards
	p.ParityShards = parityShards
	p.ShardSize = shardSize
}

// Complete reports whether every data-chunk slot (directly received or
// FEC-recovered) has been filled. Parity slots never factor in: a packet
// with all data shards present is complete even with parity still missing.
func (p *Packet) Complete() bool {
	return p.dataFilled >= p.DataShards
}

// Emplace sets the byte range at chunkIndex. Returns ErrDuplicateChunk if
// already set.
func (p *Packet) emplace(chunkIndex uint32, data ByteRange) error {
	if chunkIndex >= p.NumChunks {
		return ErrChunkIndexOOB
	}
	if p.slots[chunkIndex] != nil {
		return ErrDuplicateChunk
	}
	p.slots[chunkIndex] = data
	p.filled++
	if chunkIndex < p.DataShards {
		p.dataLens[chunkIndex] = len(data)
		p.dataFilled++
	}
	return nil
}

// tryRecover attempts Reed-Solomon reconstruction of this packet's missing
// data shards (spec §8 testable property: "drop any M <= P chunks, the
// frame still decodes"). Returns false, nil when there is no parity
// configured or too many shards are missing to reconstruct
// (fec.CanRecover is false); the caller should keep waiting for more
// chunks in that case.
//
// A recovered shard's pre-padding length is only known when that shard
// was itself received directly (dataLens is populated at emplace time);
// a reconstructed shard that was never seen falls back to the full
// configured ShardSize. Every data shard but the last is exactly
// ShardSize by construction (internal/transport/chunker.go splits a
// frame into fixed-size chunks), so this only under-trims the final
// shard of a frame whose length isn't a multiple of ShardSize, and only
// when that specific shard is among the ones reconstructed rather than
// received.
func (p *Packet) tryRecover() (bool, error) {
	if p.Complete() || p.ParityShards == 0 {
		return false, nil
	}
	block := fec.Block{DataShards: int(p.DataShards), ParityShards: int(p.ParityShards), ShardSize: int(p.ShardSize)}
	if !fec.CanRecover(block, int(p.filled)) {
		return false, nil
	}

	shards := make([][]byte, p.NumChunks)
	dataLens := make([]int, p.DataShards)
	for i := uint32(0); i < p.NumChunks; i++ {
		if p.slots[i] == nil {
			continue
		}
		if i < p.DataShards {
			padded := make([]byte, p.ShardSize)
			copy(padded, p.slots[i])
			shards[i] = padded
			dataLens[i] = p.dataLens[i]
		} else {
			shards[i] = p.slots[i]
		}
	}

	recovered, err := fec.Recover(block, shards, dataLens)
	if err != nil {
		return false, err
	}
	for i, d := range recovered {
		p.FillSlot(uint32(i), d)
	}
	p.recovered = true
	return true, nil
}

// Recovered reports whether any of this packet's data shards were filled
// via FEC reconstruction rather than received directly.
func (p *Packet) Recovered() bool {
	return p.recovered
}

// Missing returns the chunk indexes that have not yet been filled, used by
// the FEC layer to know which data shards to reconstruct.
func (p *Packet) Missing() []uint32 {
	var out []uint32
	for i, s := range p.slots {
		if s == nil {
			out = append(out, uint32(i))
		}
	}
	return out
}

// Slot returns the byte range at chunkIndex, or nil if not yet filled.
func (p *Packet) Slot(chunkIndex uint32) ByteRange {
	if int(chunkIndex) >= len(p.slots) {
		return nil
	}
	return p.slots[chunkIndex]
}

// FillSlot is used by FEC reconstruction to install a recovered shard.
func (p *Packet) FillSlot(chunkIndex uint32, data ByteRange) {
	if p.slots[chunkIndex] == nil {
		p.filled++
		if chunkIndex < p.DataShards {
			p.dataFilled++
		}
	}
	p.slots[chunkIndex] = data
}

// Bytes concatenates the completed packet's data-chunk slots in order. When
// the frame fit in a single chunk, it borrows that one underlying range
// directly without copying (spec §4.C: "when drained in one piece it
// borrows the single underlying range directly").
func (p *Packet) Bytes(dataShards uint32) []byte {
	if dataShards == 0 {
		dataShards = p.DataShards
	}
	if dataShards == 1 {
		return p.slots[0]
	}
	total := 0
	for i := uint32(0); i < dataShards; i++ {
		total += len(p.slots[i])
	}
	out := make([]byte, 0, total)
	for i := uint32(0); i < dataShards; i++ {
		out = append(out, p.slots[i]...)
	}
	return out
}
