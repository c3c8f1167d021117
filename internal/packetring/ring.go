package packetring

import (
	"sort"
	"sync"

	"github.com/magicmirror/mmcore/internal/applog"
	"github.com/magicmirror/mmcore/internal/wire"
)

var log = applog.Component("PACKETRING")

// Ring is a bounded, ordered deque of in-progress packets (spec §4.C).
// Ring guards its own map with a mutex so Insert/Drain/Discard may be
// called from different goroutines (e.g. a datagram-receive goroutine and
// a decoder-drain goroutine).
type Ring struct {
	mu          sync.Mutex
	targetDepth int
	packets     map[Key]*Packet
	dropped     uint64
}

// New creates a Ring with the given target depth (spec §9 open question:
// hard-coded at 5 in the reference; exposed here as a parameter).
func New(targetDepth int) *Ring {
	if targetDepth <= 0 {
		targetDepth = 5
	}
	return &Ring{targetDepth: targetDepth, packets: make(map[Key]*Packet)}
}

// Insert emplaces one chunk's data into its matching in-progress packet,
// creating the packet on first sight (spec §4.C), without any FEC block
// geometry — every slot is treated as a plain data slot. Use InsertChunk
// for chunks that may carry FEC parity.
func (r *Ring) Insert(key Key, chunkIndex, numChunks uint32, data ByteRange) (*Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.packets[key]
	if !ok {
		p = newPacket(key, numChunks)
		r.packets[key] = p
	} else if p.NumChunks != numChunks {
		return nil, ErrNumChunksMismatch
	}

	if err := p.emplace(chunkIndex, data); err != nil {
		return p, err
	}

	r.evictIfOverDepth()
	return p, nil
}

// InsertChunk is the production entry point for one received wire.Chunk: it
// emplaces the chunk into its matching in-progress packet exactly like
// Insert, additionally recording the packet's FEC block geometry (spec
// §4.E) the first time a FEC-carrying chunk arrives, and opportunistically
// attempting Reed-Solomon recovery as soon as enough shards are present to
// reconstruct any still-missing data shards (spec §8 testable property:
// "drop any M <= P chunks, the frame still decodes").
func (r *Ring) InsertChunk(c *wire.Chunk) (*Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{StreamSeq: c.StreamSeq, Seq: c.Seq}
	p, ok := r.packets[key]
	if !ok {
		p = newPacket(key, c.NumChunks)
		r.packets[key] = p
	} else if p.NumChunks != c.NumChunks {
		return nil, ErrNumChunksMismatch
	}

	if c.FEC != nil {
		p.setFEC(c.FEC.BlockDataShards, c.FEC.BlockParityShards, c.FEC.ShardSize)
	}
	if err := p.emplace(c.ChunkIndex, c.Data); err != nil {
		return p, err
	}

	if !p.Complete() {
		recovered, err := p.tryRecover()
		if err != nil {
			log.Warnf("fec recovery failed stream_seq=%d seq=%d: %v", key.StreamSeq, key.Seq, err)
		} else if recovered {
			log.Printf("fec recovered packet stream_seq=%d seq=%d missing=%d",
				key.StreamSeq, key.Seq, len(p.Missing()))
		}
	}

	r.evictIfOverDepth()
	return p, nil
}

// evictIfOverDepth drops the oldest incomplete packet when the ring exceeds
// its target depth, never the newest (spec §4.C, §8 property).
func (r *Ring) evictIfOverDepth() {
	for len(r.packets) > r.targetDepth {
		oldest, ok := r.oldestIncompleteLocked()
		if !ok {
			return
		}
		delete(r.packets, oldest.Key)
		r.dropped++
		log.Printf("dropped incomplete packet stream_seq=%d seq=%d missing=%d depth=%d",
			oldest.Key.StreamSeq, oldest.Key.Seq, len(oldest.Missing()), len(r.packets))
	}
}

func (r *Ring) oldestIncompleteLocked() (*Packet, bool) {
	var oldest *Packet
	for _, p := range r.packets {
		if p.Complete() {
			continue
		}
		if oldest == nil || p.Key.Less(oldest.Key) {
			oldest = p
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest, true
}

// DrainCompleted removes and returns, in (stream_seq,seq) order, every
// completed packet matching streamSeq, stopping at the first incomplete
// one encountered (spec §4.C: drain_completed stops at the first gap so a
// decoder never sees frame N+1 before frame N).
func (r *Ring) DrainCompleted(streamSeq uint64) []*Packet {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*Packet
	for k, p := range r.packets {
		if k.StreamSeq == streamSeq {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Key.Less(candidates[j].Key) })

	var out []*Packet
	for _, p := range candidates {
		if !p.Complete() {
			break
		}
		out = append(out, p)
		delete(r.packets, p.Key)
	}
	return out
}

// Discard removes every packet with stream_seq < streamSeq, or with
// stream_seq == streamSeq and seq <= upToSeq, used when the decoder
// transitions to a newer stream (spec §4.C).
func (r *Ring) Discard(streamSeq, upToSeq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.packets {
		if k.StreamSeq < streamSeq || (k.StreamSeq == streamSeq && k.Seq <= upToSeq) {
			delete(r.packets, k)
		}
	}
}

// DiscardBefore is the simple form used at a stream_seq switchover: drop
// everything with sequence <= the given stream_seq (spec §4.C: "discard(k)"
// takes a single cutoff value against the whole ring ordering).
func (r *Ring) DiscardBefore(streamSeq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.packets {
		if k.StreamSeq <= streamSeq {
			delete(r.packets, k)
		}
	}
}

// Len returns the number of in-progress (including complete-but-undrained)
// packets currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

// Dropped returns the cumulative count of oldest-incomplete evictions.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Lookup returns the in-progress packet for key, if any — used by the FEC
// layer to attempt reconstruction without mutating ring depth.
func (r *Ring) Lookup(key Key) (*Packet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packets[key]
	return p, ok
}
