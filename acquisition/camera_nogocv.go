//go:build !gocv

package acquisition

import "errors"

// ErrNoGoCV is returned when the binary was built without the gocv tag.
var ErrNoGoCV = errors.New("camera backend gocv requires building with -tags gocv")

func NewCameraSource(device string, quality int) (Source, error) {
	return nil, ErrNoGoCV
}
