package transport

import (
	"time"

	"github.com/magicmirror/mmcore/internal/config"
	"github.com/magicmirror/mmcore/internal/fec"
	"github.com/magicmirror/mmcore/internal/wire"
)

// FrameInput is what a session's encoder writer hands the transport layer
// per emitted frame, the boundary between the in-process sink (spec §4.E:
// "bytes flow to an in-process sink") and the chunking/FEC/datagram stage.
type FrameInput struct {
	SessionID         uint64
	AttachmentID      uint64
	StreamSeq         uint64
	Seq               uint64
	Timestamp         time.Duration
	IsVideo           bool
	IsKeyframe        bool
	HierarchicalLayer int
	Data              []byte
}

// Chunker splits one frame into MTU-sized wire.Chunks and, for video frames
// at a layer with configured redundancy, appends a trailing block of
// Reed-Solomon parity chunks (spec §4.E, §4.C).
type Chunker struct {
	payloadCap int
	fecRatios  map[int]float64
}

// NewChunker builds a Chunker from the transport config's MTU, header
// budget, and per-layer FEC ratio table.
func NewChunker(tcfg config.Transport) *Chunker {
	cap := tcfg.MTU - tcfg.ChunkHeaderBudget
	if cap <= 0 {
		cap = 1200
	}
	return &Chunker{payloadCap: cap, fecRatios: tcfg.FECRatios}
}

// Chunk splits f.Data into data chunks of at most payloadCap bytes, then
// generates parity shards when f is a video frame and its hierarchical
// layer carries a nonzero redundancy ratio.
func (c *Chunker) Chunk(f FrameInput) ([]wire.Chunk, error) {
	if len(f.Data) == 0 {
		return nil, nil
	}

	dataShards := (len(f.Data) + c.payloadCap - 1) / c.payloadCap
	if dataShards == 0 {
		dataShards = 1
	}

	dataChunks := make([][]byte, dataShards)
	for i := 0; i < dataShards; i++ {
		start := i * c.payloadCap
		end := start + c.payloadCap
		if end > len(f.Data) {
			end = len(f.Data)
		}
		dataChunks[i] = f.Data[start:end]
	}

	parityShards := 0
	if f.IsVideo {
		parityShards = fec.RatioForLayer(dataShards, c.fecRatios, f.HierarchicalLayer)
	}

	var parity [][]byte
	var fecMeta *wire.FECMetadata
	if parityShards > 0 {
		enc, err := fec.NewEncoder(dataShards, parityShards, c.payloadCap)
		if err != nil {
			return nil, err
		}
		parity, err = enc.Encode(dataChunks)
		if err != nil {
			return nil, err
		}
		fecMeta = &wire.FECMetadata{
			BlockDataShards:   uint32(dataShards),
			BlockParityShards: uint32(parityShards),
			ShardSize:         uint32(c.payloadCap),
		}
	}

	numChunks := uint32(dataShards + parityShards)
	out := make([]wire.Chunk, 0, numChunks)
	for i, d := range dataChunks {
		out = append(out, wire.Chunk{
			SessionID: f.SessionID, AttachmentID: f.AttachmentID, StreamSeq: f.StreamSeq, Seq: f.Seq,
			ChunkIndex: uint32(i), NumChunks: numChunks, Timestamp: f.Timestamp, IsVideo: f.IsVideo,
			IsKeyframe: f.IsKeyframe, FEC: fecMeta, Data: d,
		})
	}
	for i, p := range parity {
		out = append(out, wire.Chunk{
			SessionID: f.SessionID, AttachmentID: f.AttachmentID, StreamSeq: f.StreamSeq, Seq: f.Seq,
			ChunkIndex: uint32(dataShards + i), NumChunks: numChunks, Timestamp: f.Timestamp, IsVideo: f.IsVideo,
			IsKeyframe: f.IsKeyframe, FEC: fecMeta, Data: p,
		})
	}
	return out, nil
}
