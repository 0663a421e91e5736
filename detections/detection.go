package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/Tutortoise/face-attendance-service/models"

	"github.com/disintegration/imaging"
)

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error { return e.Cause }

// Detector finds face rectangles with a YOLO face model.
type Detector struct {
	pool         *SessionPool
	preprocessor *Preprocessor
	threshold    float32
	clusterer    BoxClusterer
}

// NewDetector keeps raw boxes scoring at least threshold and merges boxes of
// the same face that overlap by more than clusterIoU.
func NewDetector(pool *SessionPool, order ChannelOrder, threshold float32, clusterIoU float64) *Detector {
	if threshold <= 0 {
		threshold = ConfThreshold
	}
	return &Detector{
		pool:         pool,
		preprocessor: NewDetectorPreprocessor(order),
		threshold:    threshold,
		clusterer:    NewBoxClusterer(clusterIoU),
	}
}

// Detect returns one rectangle per face in img coordinates, most confident
// cluster first.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	var lastErr error

	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		boxes, err := d.detectOnce(ctx, img)
		if err == nil {
			return toRectangles(boxes, img.Bounds().Min), nil
		}
		lastErr = err

		var perr *ProcessingError
		if errors.As(err, &perr) && attempt < RetryAttempts {
			time.Sleep(time.Duration(attempt) * RetryDelayMs * time.Millisecond)
			continue
		}
		break
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unknown error")
}

func (d *Detector) detectOnce(ctx context.Context, img image.Image) ([][4]int32, error) {
	resized := imaging.Resize(img, InputWidth, InputHeight, imaging.Linear)
	input := d.preprocessor.Process(resized)

	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	output, err := session.Run(input)
	if err != nil {
		d.pool.Discard(session)
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}
	predictions := make([]float32, len(output))
	copy(predictions, output)
	d.pool.Release(session)

	detections, err := processPredictions(predictions, d.threshold, img.Bounds().Dx(), img.Bounds().Dy())
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}

	return d.clusterer.Cluster(detections), nil
}

func toRectangles(boxes [][4]int32, origin image.Point) []image.Rectangle {
	rects := make([]image.Rectangle, 0, len(boxes))
	for _, b := range boxes {
		r := image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3])).Add(origin)
		if r.Empty() {
			continue
		}
		rects = append(rects, r)
	}
	return rects
}

func processPredictions(predictions []float32, threshold float32, originalWidth, originalHeight int) ([]models.Detection, error) {
	expectedSize := PredictionChannel * NumPredictions
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	detections := make([]models.Detection, 0, 100)
	const chunkSize = 512
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []models.Detection, numWorkers)

	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			localDetections := make([]models.Detection, 0, 16)

			for start := range jobs {
				end := start + chunkSize
				if end > NumPredictions {
					end = NumPredictions
				}

				for i := start; i < end; i++ {
					confidence := predictions[4*NumPredictions+i]
					if confidence < threshold {
						continue
					}
					bbox := calculateBBox(
						[4]float32{
							predictions[i],
							predictions[NumPredictions+i],
							predictions[2*NumPredictions+i],
							predictions[3*NumPredictions+i],
						},
						float32(originalWidth),
						float32(originalHeight),
					)
					localDetections = append(localDetections, models.Detection{
						BBox:       bbox,
						Confidence: confidence,
					})
				}
			}

			if len(localDetections) > 0 {
				results <- localDetections
			}
		}()
	}

	go func() {
		for i := 0; i < NumPredictions; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for chunk := range results {
		detections = append(detections, chunk...)
	}

	if len(detections) > 0 {
		sortDetectionsByConfidence(detections)
	}

	return detections, nil
}

// calculateBBox converts a normalized centre box into corner pixels of the
// original image.
func calculateBBox(coords [4]float32, origWidth, origHeight float32) [4]int32 {
	scaleX := origWidth / InputWidth
	scaleY := origHeight / InputHeight

	centerX := coords[0] * InputWidth
	centerY := coords[1] * InputHeight
	width := coords[2] * InputWidth
	height := coords[3] * InputHeight

	x1 := (centerX - width/2) * scaleX
	y1 := (centerY - height/2) * scaleY
	x2 := (centerX + width/2) * scaleX
	y2 := (centerY + height/2) * scaleY

	return [4]int32{
		int32(max(0, x1)),
		int32(max(0, y1)),
		int32(min(origWidth, x2)),
		int32(min(origHeight, y2)),
	}
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		if detections[i].Confidence != detections[j].Confidence {
			return detections[i].Confidence > detections[j].Confidence
		}
		return detections[i].BBox[0] < detections[j].BBox[0]
	})
}
