// Package acquisition turns client uploads and camera streams into images.
package acquisition

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// ErrEmptyFrame is returned for a frame without any image payload.
var ErrEmptyFrame = errors.New("empty frame")

// DecodeDataURL decodes a browser canvas capture such as
// "data:image/jpeg;base64,/9j/4AAQ...". A bare base64 payload is accepted too.
func DecodeDataURL(s string) (image.Image, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		if !strings.HasSuffix(s[:comma], ";base64") {
			return nil, fmt.Errorf("data URL is not base64 encoded")
		}
		s = s[comma+1:]
	}
	if s == "" {
		return nil, ErrEmptyFrame
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("decode base64 frame: %w", err)
		}
	}
	return Decode(data)
}

// Decode decodes a JPEG, PNG, GIF or WebP frame.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyFrame
	}
	return img, nil
}
