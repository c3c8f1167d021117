// Package encode implements the per-session composite -> YUV-convert ->
// hardware-encode graph (spec §4.B), synchronized across the graphics and
// encode queues with gpux timeline semaphores. The GOP/state-machine shape
// here generalizes the reference Vulkan Video H.264 encoder's frame/session
// bookkeeping (H264Encoder.frameNum/gopFrameNum/idrPicId and its DPB image
// pool in the retrieved material) from a single fixed encoder into a
// pluggable, per-layer GOP descriptor.
package encode

// FrameDescriptor is the per-frame decision a GOP structure produces (spec
// §4.B: "{is_keyframe, forward_ref_count, stream_position, gop_position,
// id, ref_ids[]}").
type FrameDescriptor struct {
	IsKeyframe      bool
	ForwardRefCount int
	StreamPosition  uint64
	GOPPosition     int
	ID              uint32
	RefIDs          []uint32
	Layer           int
}

// GOPStructure decides, for each submitted frame, whether it is a keyframe
// and which prior frames it references. HierarchicalP is the only
// implementation today; the interface exists so a future GOP shape doesn't
// require changing the Encoder state machine.
type GOPStructure interface {
	Next(streamPosition uint64, forceKeyframe bool) FrameDescriptor
	Reset()
}

// HierarchicalP implements a hierarchical-P GOP: a keyframe every gopSize
// frames, with numLayers-1 intermediate reference layers between
// keyframes, each non-key frame referencing the most recent frame of every
// layer numbered below its own (spec §4.B: "A GOP structure descriptor (\"HierarchicalP\")
// decides, per frame ..."; spec §4.A DPB slot/"nominated setup-slot"
// language).
type HierarchicalP struct {
	gopSize    int
	numLayers  int
	nextID     uint32
	gopPos     int
	lastOfLayer []uint32 // most recent frame ID produced at each layer, -1 sentinel via hasLayer
	hasLayer    []bool
}

// NewHierarchicalP builds a HierarchicalP GOP with the given keyframe
// interval and reference-layer count. numLayers must be >= 1; layer 0 is
// the keyframe/base layer.
func NewHierarchicalP(gopSize, numLayers int) *HierarchicalP {
	if gopSize < 1 {
		gopSize = 1
	}
	if numLayers < 1 {
		numLayers = 1
	}
	h := &HierarchicalP{gopSize: gopSize, numLayers: numLayers}
	h.Reset()
	return h
}

// Reset clears DPB/layer tracking state, called on session (re)creation and
// whenever the pipeline is dropped and recreated for a parameter change
// (spec §4.B "Parameter change").
func (h *HierarchicalP) Reset() {
	h.gopPos = 0
	h.lastOfLayer = make([]uint32, h.numLayers)
	h.hasLayer = make([]bool, h.numLayers)
}

// Next computes the descriptor for the frame at streamPosition. forceKeyframe
// implements request_refresh(): the next submitted frame is forced to
// is_keyframe=true regardless of GOP position (spec §4.B).
func (h *HierarchicalP) Next(streamPosition uint64, forceKeyframe bool) FrameDescriptor {
	isKeyframe := forceKeyframe || h.gopPos == 0
	id := h.nextID
	h.nextID++

	var desc FrameDescriptor
	desc.ID = id
	desc.StreamPosition = streamPosition
	desc.GOPPosition = h.gopPos
	desc.IsKeyframe = isKeyframe

	if isKeyframe {
		// A keyframe clears the DPB (spec §4.B: "On a keyframe the DPB is
		// cleared") and becomes the sole reference for subsequent frames.
		h.Reset()
		h.lastOfLayer[0] = id
		h.hasLayer[0] = true
		h.gopPos = 1
		return desc
	}

	layer := layerForGOPPosition(h.gopPos, h.gopSize, h.numLayers)
	desc.Layer = layer

	for l := 0; l < layer; l++ {
		if h.hasLayer[l] {
			desc.RefIDs = append(desc.RefIDs, h.lastOfLayer[l])
		}
	}
	if len(desc.RefIDs) == 0 && h.hasLayer[0] {
		desc.RefIDs = append(desc.RefIDs, h.lastOfLayer[0])
	}
	desc.ForwardRefCount = 0 // low-delay hierarchical-P never references a future frame.

	h.lastOfLayer[layer] = id
	h.hasLayer[layer] = true

	h.gopPos++
	if h.gopPos >= h.gopSize {
		h.gopPos = 0
	}
	return desc
}

// layerForGOPPosition assigns a reference layer to a non-keyframe position
// within the GOP using bit-reversal order, the standard hierarchical-P
// pattern (the deepest layer gets the positions furthest from a power-of-two
// boundary).
func layerForGOPPosition(pos, gopSize, numLayers int) int {
	if numLayers <= 1 || pos == 0 {
		return 0
	}
	layer := numLayers - 1
	for l := 1; l < numLayers; l++ {
		step := gopSize >> uint(l)
		if step > 0 && pos%step == 0 {
			layer = l
			break
		}
	}
	if layer >= numLayers {
		layer = numLayers - 1
	}
	return layer
}
