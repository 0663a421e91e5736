//go:build gocv

package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// CameraSource captures frames from a local camera through OpenCV.
type CameraSource struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	frame   gocv.Mat
	quality int
}

// NewCameraSource opens a device index ("0") or any path or URL OpenCV accepts.
func NewCameraSource(device string, quality int) (Source, error) {
	var id interface{} = device
	if n, err := strconv.Atoi(device); err == nil {
		id = n
	}
	capture, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", device, err)
	}
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &CameraSource{
		capture: capture,
		frame:   gocv.NewMat(),
		quality: quality,
	}, nil
}

func (c *CameraSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.capture.Read(&c.frame); !ok {
		return nil, errors.New("camera read failed")
	}
	if c.frame.Empty() {
		return nil, ErrEmptyFrame
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.frame, []int{gocv.IMWriteJpegQuality, c.quality})
	if err != nil {
		return nil, fmt.Errorf("encode camera frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

func (c *CameraSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame.Close()
	return c.capture.Close()
}
