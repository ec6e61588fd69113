package bridge

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/MrWong99/facechat/pkg/media"
	"github.com/MrWong99/facechat/pkg/types"
)

// FrameSource advances and snapshots the face animation.
// *expression.Animator satisfies it.
type FrameSource interface {
	Tick(now time.Time)
	Snapshot() types.ExpressionFrame
}

// RenderLoop ticks src at fps frames per second and hands every changed
// frame to r. A missing renderer is not an error: frames are simply not
// delivered until a host connects. RenderLoop returns nil when ctx ends.
func RenderLoop(ctx context.Context, src FrameSource, r media.Renderer, fps int) error {
	if fps <= 0 {
		fps = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var last types.ExpressionFrame
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			src.Tick(now)
			frame := src.Snapshot()
			if last != nil && maps.Equal(frame, last) {
				continue
			}
			if err := r.Render(ctx, frame); err != nil {
				if !errors.Is(err, media.ErrNoDevice) && ctx.Err() == nil {
					slog.Debug("bridge: render frame", "err", err)
				}
				// Resend once a host is back.
				last = nil
				continue
			}
			last = frame
		}
	}
}
