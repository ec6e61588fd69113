package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/facechat/pkg/media"
	"github.com/MrWong99/facechat/pkg/types"
)

// ImageCapturer takes single face snapshots from a [media.Camera].
type ImageCapturer struct {
	cam     media.Camera
	timeout time.Duration
}

// NewImageCapturer returns a capturer for cam. A positive timeout bounds each
// Capture call.
func NewImageCapturer(cam media.Camera, timeout time.Duration) *ImageCapturer {
	return &ImageCapturer{cam: cam, timeout: timeout}
}

// Capture opens the camera, takes one photo and releases the camera again.
// The camera's tracks are stopped on every path, including failures.
func (c *ImageCapturer) Capture(ctx context.Context) (*types.ImageSnapshot, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stream, err := c.cam.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: open camera: %w", err)
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			slog.Warn("capture: stop camera", "err", err)
		}
	}()

	img, err := stream.TakePhoto(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: take photo: %w", err)
	}
	if img.MIMEType == "" {
		img.MIMEType = types.MIMEImageJPEG
	}
	return &img, nil
}
