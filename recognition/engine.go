// Package recognition turns a frame into recognition entries: downscale,
// detect, embed, match against the known set, and look up display attributes.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"time"

	"github.com/Tutortoise/face-attendance-service/models"
	"github.com/Tutortoise/face-attendance-service/store"

	"github.com/disintegration/imaging"
)

const (
	DefaultScale     = 0.25
	DefaultTolerance = 0.6

	UnknownUsername = "Unknown"
	UnknownAttr     = "-"
)

// Detector finds face rectangles in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

// Embedder computes one embedding per rectangle, in order.
type Embedder interface {
	Embed(ctx context.Context, img image.Image, rects []image.Rectangle) ([]models.Embedding, error)
}

// Directory resolves the current display record of a user.
type Directory interface {
	GetUser(ctx context.Context, id models.UserID) (*models.User, error)
}

// Engine runs one recognition pass per frame. It holds no per-frame state.
type Engine struct {
	detector  Detector
	embedder  Embedder
	directory Directory

	// Scale is the downscale factor applied before detection.
	Scale float64
	// Tolerance is the largest distance still accepted as a match.
	Tolerance float64
	Metric    Metric
}

func NewEngine(detector Detector, embedder Embedder, directory Directory) *Engine {
	return &Engine{
		detector:  detector,
		embedder:  embedder,
		directory: directory,
		Scale:     DefaultScale,
		Tolerance: DefaultTolerance,
		Metric:    Euclidean,
	}
}

// Pass is the outcome of recognizing one frame.
type Pass struct {
	Result models.RecognitionResult
	// LastUnknown is the embedding of the last unmatched face, nil when every
	// face matched.
	LastUnknown models.Embedding
	Timings     models.ProcessingTimings
}

// Recognize detects and identifies every face of frame against known.
// Boxes in the result are in frame pixel coordinates.
func (e *Engine) Recognize(ctx context.Context, frame image.Image, known models.KnownFaceSet) (Pass, error) {
	start := time.Now()
	pass := Pass{Result: models.RecognitionResult{}}

	resizeStart := time.Now()
	small, sx, sy := e.downscale(frame)
	pass.Timings.Resize = time.Since(resizeStart)

	detectStart := time.Now()
	rects, err := e.detector.Detect(ctx, small)
	pass.Timings.Detect = time.Since(detectStart)
	if err != nil {
		return pass, fmt.Errorf("detect faces: %w", err)
	}
	if len(rects) == 0 {
		pass.Timings.Total = time.Since(start)
		return pass, nil
	}

	embedStart := time.Now()
	embeddings, err := e.embedder.Embed(ctx, small, rects)
	pass.Timings.Embed = time.Since(embedStart)
	if err != nil {
		return pass, fmt.Errorf("embed faces: %w", err)
	}
	if len(embeddings) != len(rects) {
		return pass, fmt.Errorf("embedder returned %d embeddings for %d faces", len(embeddings), len(rects))
	}

	matchStart := time.Now()
	origin, smallOrigin := frame.Bounds().Min, small.Bounds().Min
	for i, r := range rects {
		box := models.FaceBox{
			X:      origin.X + round(float64(r.Min.X-smallOrigin.X)*sx),
			Y:      origin.Y + round(float64(r.Min.Y-smallOrigin.Y)*sy),
			Width:  round(float64(r.Dx()) * sx),
			Height: round(float64(r.Dy()) * sy),
		}

		entry, recordUnknown := e.identify(ctx, embeddings[i], known)
		entry.FaceBox = box
		if recordUnknown {
			pass.LastUnknown = embeddings[i]
		}
		pass.Result = append(pass.Result, entry)
	}
	pass.Timings.Match = time.Since(matchStart)
	pass.Timings.Total = time.Since(start)

	return pass, nil
}

// identify matches one embedding. The bool reports whether the embedding
// should be remembered as the last unknown face.
func (e *Engine) identify(ctx context.Context, emb models.Embedding, known models.KnownFaceSet) (models.RecognitionEntry, bool) {
	metric := e.Metric
	if metric == nil {
		metric = Euclidean
	}

	idx, dist := bestMatch(metric, emb, known.Embeddings)
	if idx < 0 || dist > e.Tolerance {
		return unknownEntry(), true
	}

	id := known.IDs[idx]
	user, err := e.directory.GetUser(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Failed to look up user %s: %v", id, err)
		}
		return unknownEntry(), false
	}

	return models.RecognitionEntry{
		UserID:     &id,
		Username:   user.Username,
		Attributes: copyAttributes(user.Attributes),
		IsKnown:    true,
	}, false
}

// downscale shrinks frame by e.Scale and returns the factors that map the
// small image back to frame pixels.
func (e *Engine) downscale(frame image.Image) (image.Image, float64, float64) {
	b := frame.Bounds()
	if e.Scale <= 0 || e.Scale >= 1 || b.Empty() {
		return frame, 1, 1
	}

	w := max(1, round(float64(b.Dx())*e.Scale))
	h := max(1, round(float64(b.Dy())*e.Scale))
	small := imaging.Resize(frame, w, h, imaging.Linear)

	return small, float64(b.Dx()) / float64(w), float64(b.Dy()) / float64(h)
}

func unknownEntry() models.RecognitionEntry {
	return models.RecognitionEntry{
		Username: UnknownUsername,
		Attributes: map[string]string{
			models.AttrGender:     UnknownAttr,
			models.AttrDepartment: UnknownAttr,
		},
	}
}

func copyAttributes(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func round(v float64) int {
	return int(math.Round(v))
}
