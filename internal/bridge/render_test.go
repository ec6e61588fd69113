package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/facechat/pkg/media"
	"github.com/MrWong99/facechat/pkg/types"
)

type stubSource struct {
	mu    sync.Mutex
	ticks int
	frame types.ExpressionFrame
}

func (s *stubSource) Tick(time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
}

func (s *stubSource) Snapshot() types.ExpressionFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame.Clone()
}

func (s *stubSource) set(f types.ExpressionFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = f
}

type recordingRenderer struct {
	mu     sync.Mutex
	frames []types.ExpressionFrame
	err    error
}

func (r *recordingRenderer) Render(_ context.Context, f types.ExpressionFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestRenderLoop_SendsOnlyChangedFrames(t *testing.T) {
	src := &stubSource{frame: types.ExpressionFrame{1: 0.2}}
	r := &recordingRenderer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RenderLoop(ctx, src, r, 200) }()

	waitFor(t, "first frame", func() bool { return r.count() == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := r.count(); n != 1 {
		t.Errorf("frames for an unchanged face: got %d, want 1", n)
	}

	src.set(types.ExpressionFrame{1: 0.4})
	waitFor(t, "second frame", func() bool { return r.count() == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("RenderLoop: got %v, want nil", err)
	}
	src.mu.Lock()
	ticks := src.ticks
	src.mu.Unlock()
	if ticks < 2 {
		t.Errorf("ticks: got %d, want the source advanced every frame", ticks)
	}
}

func TestRenderLoop_ResendsAfterRendererReturns(t *testing.T) {
	src := &stubSource{frame: types.ExpressionFrame{2: 1}}
	r := &recordingRenderer{err: &media.AccessError{Device: "renderer", Err: media.ErrNoDevice}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = RenderLoop(ctx, src, r, 200) }()

	time.Sleep(30 * time.Millisecond)
	r.mu.Lock()
	r.err = nil
	r.mu.Unlock()

	waitFor(t, "frame after host connects", func() bool { return r.count() == 1 })
}
