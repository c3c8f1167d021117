package reactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/magicmirror/mmcore/internal/audio"
	"github.com/magicmirror/mmcore/internal/display"
	"github.com/magicmirror/mmcore/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu             sync.Mutex
	refreshCount   int
	submitCount    int
	compositeCount int
}

func (f *fakePipeline) Begin() (any, error) { return struct{}{}, nil }
func (f *fakePipeline) CompositeSurface(sf any, surface SurfaceInput, dest display.Surface) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compositeCount++
}
func (f *fakePipeline) EndAndSubmit(sf any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCount++
	return nil
}
func (f *fakePipeline) RequestRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCount++
}

func (f *fakePipeline) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCount
}

func newTestReactor(t *testing.T, disp display.Server, pipeline *fakePipeline) (*Reactor, *audio.Fake) {
	t.Helper()
	aud := audio.NewFake()
	factory := func(mode display.Mode, video wire.VideoParams) (Pipeline, error) {
		return pipeline, nil
	}
	r := New("sess-1", disp, aud, nil, factory, 30, nil)
	return r, aud
}

func TestAttachInstallsAttachmentAndRestartsAudio(t *testing.T) {
	disp := display.NewFake(display.Mode{Width: 1280, Height: 720, Framerate: 30})
	pipeline := &fakePipeline{}
	r, aud := newTestReactor(t, disp, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	send := make(chan wire.Envelope, 4)
	resultCh := r.Attach(wire.Attach{Video: wire.VideoParams{Codec: wire.CodecH264}, Audio: wire.AudioParams{SampleRate: 48000}}, send)
	select {
	case result := <-resultCh:
		require.NoError(t, result.Err)
	case <-time.After(time.Second):
		t.Fatal("attach did not complete")
	}

	require.Eventually(t, func() bool { return aud.Running() }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, r.AttachmentCount())
}

func TestAttachRejectsResolutionMismatch(t *testing.T) {
	disp := display.NewFake(display.Mode{Width: 1280, Height: 720, Framerate: 30})
	pipeline := &fakePipeline{}
	r, _ := newTestReactor(t, disp, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	send := make(chan wire.Envelope, 4)
	resultCh := r.Attach(wire.Attach{Video: wire.VideoParams{Width: 1920, Height: 1080}}, send)
	select {
	case result := <-resultCh:
		require.Error(t, result.Err)
		require.True(t, IsParamsNotSupported(result.Err))
	case <-time.After(time.Second):
		t.Fatal("attach did not complete")
	}
	require.Equal(t, 0, r.AttachmentCount())
}

func TestTickRendersOnlyWhenAttached(t *testing.T) {
	disp := display.NewFake(display.Mode{Width: 1280, Height: 720, Framerate: 30})
	disp.SetSurfaces([]display.Surface{{ID: 1, Width: 100, Height: 100}})
	pipeline := &fakePipeline{}
	r, _ := newTestReactor(t, disp, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	send := make(chan wire.Envelope, 4)
	<-r.Attach(wire.Attach{}, send)

	require.Eventually(t, func() bool {
		pipeline.mu.Lock()
		defer pipeline.mu.Unlock()
		return pipeline.submitCount > 0
	}, time.Second, 5*time.Millisecond)
}

func TestRequestVideoRefreshRateLimited(t *testing.T) {
	disp := display.NewFake(display.Mode{Width: 1280, Height: 720, Framerate: 30})
	pipeline := &fakePipeline{}
	r, _ := newTestReactor(t, disp, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	send := make(chan wire.Envelope, 4)
	<-r.Attach(wire.Attach{}, send)

	r.RequestVideoRefresh(0, 0)
	r.RequestVideoRefresh(0, 0)
	time.Sleep(50 * time.Millisecond)

	require.LessOrEqual(t, pipeline.Refreshes(), 1)
}

func TestDetachLastAttachmentStopsAudio(t *testing.T) {
	disp := display.NewFake(display.Mode{Width: 1280, Height: 720, Framerate: 30})
	pipeline := &fakePipeline{}
	r, aud := newTestReactor(t, disp, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	send := make(chan wire.Envelope, 4)
	<-r.Attach(wire.Attach{}, send)
	require.Eventually(t, func() bool { return aud.Running() }, time.Second, 5*time.Millisecond)

	r.Detach(0)
	require.Eventually(t, func() bool { return r.AttachmentCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !aud.Running() }, time.Second, 5*time.Millisecond)
}
