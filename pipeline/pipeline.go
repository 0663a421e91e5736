// Package pipeline runs one processing pass: known faces from the cache,
// recognition, and publication to the shared state.
package pipeline

import (
	"context"
	"image"
	"log"
	"time"

	"github.com/Tutortoise/face-attendance-service/models"
	"github.com/Tutortoise/face-attendance-service/recognition"
	"github.com/Tutortoise/face-attendance-service/state"

	"github.com/google/uuid"
)

type KnownFaces interface {
	Get(ctx context.Context) models.KnownFaceSet
}

type Recognizer interface {
	Recognize(ctx context.Context, frame image.Image, known models.KnownFaceSet) (recognition.Pass, error)
}

type Processor struct {
	known  KnownFaces
	engine Recognizer
	state  *state.Shared
	debug  bool
}

func New(known KnownFaces, engine Recognizer, shared *state.Shared, debug bool) *Processor {
	return &Processor{
		known:  known,
		engine: engine,
		state:  shared,
		debug:  debug,
	}
}

// Process recognizes img and publishes the result. On failure the shared
// state is left untouched and an empty result is returned with the error.
func (p *Processor) Process(ctx context.Context, img image.Image) (models.RecognitionResult, error) {
	start := time.Now()
	known := p.known.Get(ctx)

	pass, err := p.engine.Recognize(ctx, img, known)
	if err != nil {
		log.Printf("Recognition failed: %v", err)
		return models.RecognitionResult{}, err
	}

	p.state.Publish(pass.Result, pass.LastUnknown)

	pass.Timings.RequestID = requestID(ctx)
	pass.Timings.Total = time.Since(start)
	p.logTimings(&pass.Timings, len(pass.Result), known.Len())

	return pass.Result.Clone(), nil
}

func (p *Processor) logTimings(t *models.ProcessingTimings, faces, known int) {
	if p.debug {
		log.Printf("[DEBUG] RequestID: %s - %d faces against %d known:\n"+
			"\tResize:      %v\n"+
			"\tDetect:      %v\n"+
			"\tEmbed:       %v\n"+
			"\tMatch:       %v\n"+
			"\tTotal:       %v",
			t.RequestID,
			faces,
			known,
			t.Resize,
			t.Detect,
			t.Embed,
			t.Match,
			t.Total)
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx so debug timings can be correlated with a request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
