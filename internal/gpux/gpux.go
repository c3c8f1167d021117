// Package gpux implements the GPU context abstraction (spec §4.A): physical
// device selection, timeline semaphores, and image/buffer/query-pool
// allocators shared by every session's encode pipeline. The device-facing
// half lives behind a cgo/non-cgo split, the way the teacher's reference
// desktop package isolates platform-native code behind a "_nocgo" stub
// (api/pkg/desktop/*_nocgo.go in the retrieved material) so the rest of the
// module stays buildable without a GPU toolchain present.
package gpux

import "errors"

// ErrDeviceLost is returned by timeline waits, signals and polls and by
// command-buffer submission once the device driver has reported an
// irrecoverable error (spec §4.A: "Fails with DeviceLost when
// the device driver reports irrecoverable errors").
var ErrDeviceLost = errors.New("gpux: device lost")

// ErrNoSuitableDevice is returned by Select when no physical device meets
// the minimum requirements (spec §4.A).
var ErrNoSuitableDevice = errors.New("gpux: no suitable physical device")

// VideoCodec mirrors wire.VideoCodec for capability reporting without
// importing the wire package (gpux sits below the wire/session layers).
type VideoCodec int

const (
	CodecH264 VideoCodec = iota
	CodecH265
	CodecAV1
)

// DeviceInfo describes a selected physical device's relevant capabilities
// (spec §4.A: "Exposes device info (selected codec support ...), queue
// objects, a host-visible memory type, ...").
type DeviceInfo struct {
	Name                string
	IsDiscrete          bool
	RenderNodePath      string
	SupportedCodecs     []VideoCodec
	GraphicsQueueFamily uint32
	EncodeQueueFamily   uint32
	HostVisibleMemType  uint32
}

// scoreDevice ranks candidate devices the way Select picks among several
// enumerated physical devices: discrete GPUs first, then by how many codecs
// they support (spec §4.A: "Scoring prefers discrete GPUs with the widest
// codec support").
func scoreDevice(d DeviceInfo) int {
	score := len(d.SupportedCodecs)
	if d.IsDiscrete {
		score += 100
	}
	return score
}

// ChooseBest returns the index of the highest-scoring candidate, or -1 if
// candidates is empty. Exposed standalone (rather than folded into the cgo
// enumeration code) so device selection policy is testable without a GPU.
func ChooseBest(candidates []DeviceInfo) int {
	best := -1
	bestScore := -1
	for i, c := range candidates {
		if s := scoreDevice(c); s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best
}
