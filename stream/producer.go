package stream

import (
	"context"
	"errors"
	"image"
	"io"
	"log"
	"sync/atomic"

	"github.com/Tutortoise/face-attendance-service/acquisition"
	"github.com/Tutortoise/face-attendance-service/models"
	"github.com/Tutortoise/face-attendance-service/overlay"
	"github.com/Tutortoise/face-attendance-service/scheduler"
)

type Processor interface {
	Process(ctx context.Context, img image.Image) (models.RecognitionResult, error)
}

type ResultReader interface {
	Read() models.RecognitionResult
}

// Producer reads the camera, runs recognition on the frames the gate admits,
// and publishes every frame annotated with the latest known result.
type Producer struct {
	Source    acquisition.Source
	Gate      scheduler.Gate
	Processor Processor
	Results   ResultReader
	Out       *Broadcaster
	Quality   int

	frames    atomic.Uint64
	processed atomic.Uint64
	skipped   atomic.Uint64
}

type ProducerStats struct {
	Frames    uint64 `json:"frames"`
	Processed uint64 `json:"processed"`
	Skipped   uint64 `json:"skipped"`
	Viewers   int64  `json:"viewers"`
}

// Run loops until ctx is cancelled or the source ends. The broadcaster is
// closed on return.
func (p *Producer) Run(ctx context.Context) error {
	defer p.Out.Close()

	for {
		data, err := p.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		p.frames.Add(1)

		img, err := acquisition.Decode(data)
		if err != nil {
			log.Printf("Dropping undecodable camera frame: %v", err)
			continue
		}

		if done, ok := p.Gate.Admit(); ok {
			p.Processor.Process(ctx, img)
			done()
			p.processed.Add(1)
		} else {
			p.skipped.Add(1)
		}

		frame, err := overlay.Render(img, p.Results.Read(), p.Quality)
		if err != nil {
			log.Printf("Failed to encode annotated frame: %v", err)
			continue
		}
		p.Out.Publish(frame)
	}
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Frames:    p.frames.Load(),
		Processed: p.processed.Load(),
		Skipped:   p.skipped.Load(),
		Viewers:   p.Out.Waiting(),
	}
}
