package acquisition

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os/exec"
	"strings"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeDataURL(t *testing.T) {
	pngData := encodePNG(t, 6, 4)
	std := base64.StdEncoding.EncodeToString(pngData)
	raw := base64.RawStdEncoding.EncodeToString(pngData)

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"data url", "data:image/png;base64," + std, false},
		{"bare base64", std, false},
		{"unpadded", raw, false},
		{"jpeg mime with png body", "data:image/jpeg;base64," + std, false},
		{"not base64 url", "data:image/png," + std, true},
		{"garbage", "data:image/png;base64,!!!!", true},
		{"missing comma", "data:image/png;base64", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeDataURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeDataURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (img.Bounds().Dx() != 6 || img.Bounds().Dy() != 4) {
				t.Fatalf("bounds = %v", img.Bounds())
			}
		})
	}
}

func TestDecodeDataURL_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "data:image/jpeg;base64,"} {
		if _, err := DecodeDataURL(in); !errors.Is(err, ErrEmptyFrame) {
			t.Errorf("DecodeDataURL(%q) = %v, want ErrEmptyFrame", in, err)
		}
	}
}

func TestDecode(t *testing.T) {
	img, err := Decode(encodeJPEG(t, 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 8 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if _, err := Decode([]byte("not an image")); err == nil {
		t.Fatal("expected error")
	}
}

func TestSplitJPEG(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	stream := []byte{0x00, 0x00}
	stream = append(stream, jpegData...)
	stream = append(stream, 0x42)
	stream = append(stream, jpegData...)
	stream = append(stream, 0x00, 0x00)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJPEG)

	count := 0
	for scanner.Scan() {
		if !bytes.Equal(scanner.Bytes(), jpegData) {
			t.Fatalf("token %d = %X, want %X", count, scanner.Bytes(), jpegData)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("got %d frames, want 2", count)
	}
}

func TestSplitJPEG_MarkerAcrossReads(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0x10, 0x20, 0xFF, 0xD9}
	scanner := bufio.NewScanner(io.MultiReader(
		bytes.NewReader(jpegData[:1]),
		bytes.NewReader(jpegData[1:5]),
		bytes.NewReader(jpegData[5:]),
	))
	scanner.Split(SplitJPEG)
	if !scanner.Scan() {
		t.Fatalf("no frame: %v", scanner.Err())
	}
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Fatalf("frame = %X", scanner.Bytes())
	}
}

func TestReaderSource(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(encodeJPEG(t, 4, 4))
	stream.Write(encodeJPEG(t, 6, 6))

	src := NewReaderSource(&stream)
	defer src.Close()

	ctx := context.Background()
	for _, want := range []int{4, 6} {
		frame, err := src.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		img, err := Decode(frame)
		if err != nil {
			t.Fatal(err)
		}
		if img.Bounds().Dx() != want {
			t.Fatalf("frame width = %d, want %d", img.Bounds().Dx(), want)
		}
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Next after last frame = %v, want io.EOF", err)
	}
}

func TestNewFFmpegArgs(t *testing.T) {
	args := NewFFmpegArgs("rtsp://cam.local/stream")
	if !strings.Contains(strings.Join(args, " "), "-rtsp_transport tcp") {
		t.Fatalf("args = %v", args)
	}
	if args[len(args)-1] != "-" {
		t.Fatalf("ffmpeg must write to stdout: %v", args)
	}
}

func TestFFmpegSource_CancelIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	s := &FFmpegSource{
		ctx:     ctx,
		cmd:     exec.Command("ffmpeg"),
		out:     pr,
		scanner: newFrameScanner(pr),
	}

	go func() {
		cancel()
		pw.CloseWithError(errors.New("signal: killed"))
	}()

	_, err := s.Next(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Next after cancel = %v, want context.Canceled", err)
	}
}
