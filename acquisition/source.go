package acquisition

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

const megabyte = 1024 * 1024

// Source yields JPEG encoded camera frames.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// SplitJPEG is a bufio.SplitFunc that yields complete JPEG images from an
// MJPEG byte stream, skipping anything before a start-of-image marker.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a possible half marker
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// FFmpegSource reads frames from ffmpeg transcoding a camera device, file or
// network stream into MJPEG on its stdout.
type FFmpegSource struct {
	ctx     context.Context
	cmd     *exec.Cmd
	out     io.ReadCloser
	scanner *bufio.Scanner
	stderr  bytes.Buffer

	mu       sync.Mutex
	closed   bool
	waitOnce sync.Once
	waitErr  error
}

// NewFFmpegArgs builds the ffmpeg argument list for input.
func NewFFmpegArgs(input string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	switch {
	case strings.HasPrefix(input, "/dev/video") && runtime.GOOS == "linux":
		args = append(args, "-f", "v4l2")
	case strings.HasPrefix(input, "rtsp://"):
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args, "-i", input, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
}

// NewFFmpegSource starts ffmpeg. The process is killed when ctx is cancelled
// or Close is called.
func NewFFmpegSource(ctx context.Context, input string) (*FFmpegSource, error) {
	if input == "" {
		return nil, errors.New("camera source is empty")
	}
	s := &FFmpegSource{ctx: ctx}
	s.cmd = exec.CommandContext(ctx, "ffmpeg", NewFFmpegArgs(input)...)
	s.cmd.Stderr = &s.stderr

	out, err := s.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	s.out = out

	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s.scanner = newFrameScanner(out)
	return s, nil
}

func newFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJPEG)
	return scanner
}

// Next blocks until the next frame is available. The returned slice is a copy.
func (s *FFmpegSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		// A cancelled context kills ffmpeg; report the cancellation, not the kill.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.ctx != nil && s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read ffmpeg frames: %w", err)
		}
		// stderr is only safe to read once the process has exited
		if err := s.wait(); err != nil {
			msg := strings.TrimSpace(s.stderr.String())
			return nil, fmt.Errorf("ffmpeg exited: %w: %s", err, msg)
		}
		return nil, io.EOF
	}
	frame := make([]byte, len(s.scanner.Bytes()))
	copy(frame, s.scanner.Bytes())
	return frame, nil
}

func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.out.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.wait()
	return nil
}

func (s *FFmpegSource) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// ReaderSource yields frames from an MJPEG stream already in memory or on
// disk, such as a recorded capture.
type ReaderSource struct {
	r       io.Reader
	scanner *bufio.Scanner
}

func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r, scanner: newFrameScanner(r)}
}

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	frame := make([]byte, len(s.scanner.Bytes()))
	copy(frame, s.scanner.Bytes())
	return frame, nil
}

func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
