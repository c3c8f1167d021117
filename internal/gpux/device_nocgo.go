//go:build !cgo

package gpux

import "context"

// enumerateDevices is the non-cgo stub: no Vulkan toolchain is linked in,
// so no devices are ever reported. Select will return ErrNoSuitableDevice,
// matching the teacher's "_nocgo" stub convention (api/pkg/desktop's
// *_nocgo.go files in the retrieved material) for features unavailable
// without cgo, rather than failing the whole module's build.
func enumerateDevices(ctx context.Context, renderNodeHint string) ([]DeviceInfo, []Allocator, error) {
	return nil, nil, nil
}

// nocgoAllocator satisfies Allocator in builds without a linked Vulkan
// driver; every method fails since no device was ever selected (Select
// already returns ErrNoSuitableDevice before an Allocator is needed, this
// just keeps the interface total).
type nocgoAllocator struct{}

func (nocgoAllocator) AllocImage(ImageDesc) (Image, error)       { return Image{}, ErrNoSuitableDevice }
func (nocgoAllocator) AllocHostBuffer(uint64) (HostBuffer, error) {
	return HostBuffer{}, ErrNoSuitableDevice
}
func (nocgoAllocator) AllocQueryPool(uint32) (QueryPool, error) { return QueryPool{}, ErrNoSuitableDevice }
func (nocgoAllocator) NewTimelineSemaphore(uint64) (*TimelineSemaphore, error) {
	return nil, ErrNoSuitableDevice
}
func (nocgoAllocator) NewCommandBuffer(uint32) (*CommandBuffer, error) {
	return nil, ErrNoSuitableDevice
}
