package detections

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/Tutortoise/face-attendance-service/models"

	"github.com/disintegration/imaging"
)

// Embedder computes one L2-normalized ArcFace descriptor per face rectangle.
type Embedder struct {
	pool         *SessionPool
	preprocessor *Preprocessor
}

func NewEmbedder(pool *SessionPool, order ChannelOrder) *Embedder {
	return &Embedder{
		pool:         pool,
		preprocessor: NewEmbedderPreprocessor(order),
	}
}

// Embed returns embeddings in the order of rects.
func (e *Embedder) Embed(ctx context.Context, img image.Image, rects []image.Rectangle) ([]models.Embedding, error) {
	if len(rects) == 0 {
		return nil, nil
	}

	inputs := make([][]float32, len(rects))
	for i, r := range rects {
		face := imaging.Crop(img, r)
		face = imaging.Resize(face, EmbedderInputSize, EmbedderInputSize, imaging.Linear)
		inputs[i] = e.preprocessor.Process(face)
	}

	session, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	embeddings := make([]models.Embedding, len(rects))
	for i, input := range inputs {
		output, err := session.Run(input)
		if err != nil {
			e.pool.Discard(session)
			return nil, &ProcessingError{Message: fmt.Sprintf("embed face %d", i), Cause: err}
		}
		embeddings[i] = normalize(output)
	}
	e.pool.Release(session)

	return embeddings, nil
}

// normalize copies v scaled to unit length.
func normalize(v []float32) models.Embedding {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make(models.Embedding, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
