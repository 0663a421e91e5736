package detections

import (
	"fmt"
	"image"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"
)

// ChannelOrder is the plane order a model expects in its input tensor.
type ChannelOrder int

const (
	RGB ChannelOrder = iota
	BGR
)

func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch strings.ToLower(s) {
	case "rgb", "":
		return RGB, nil
	case "bgr":
		return BGR, nil
	default:
		return RGB, fmt.Errorf("unknown channel order %q", s)
	}
}

func (o ChannelOrder) String() string {
	if o == BGR {
		return "bgr"
	}
	return "rgb"
}

// Split rows across goroutines only where the CPU has wide vector units;
// elsewhere the scheduling overhead outweighs the gain at these sizes.
var parallelRows = cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD

// Preprocessor converts an image of exactly width x height pixels into a
// planar float32 tensor, (v - mean) / std per channel.
type Preprocessor struct {
	width, height int
	order         ChannelOrder
	mean, std     float32
	numWorkers    int
}

// NewDetectorPreprocessor scales pixels into [0, 1].
func NewDetectorPreprocessor(order ChannelOrder) *Preprocessor {
	return NewPreprocessor(InputWidth, InputHeight, order, 0, 255)
}

// NewEmbedderPreprocessor centres pixels around zero the way ArcFace models
// are trained.
func NewEmbedderPreprocessor(order ChannelOrder) *Preprocessor {
	return NewPreprocessor(EmbedderInputSize, EmbedderInputSize, order, 127.5, 128)
}

func NewPreprocessor(width, height int, order ChannelOrder, mean, std float32) *Preprocessor {
	workers := runtime.GOMAXPROCS(0)
	if !parallelRows || workers > height {
		workers = 1
	}
	return &Preprocessor{
		width:      width,
		height:     height,
		order:      order,
		mean:       mean,
		std:        std,
		numWorkers: workers,
	}
}

// Len is the number of floats in one tensor.
func (p *Preprocessor) Len() int { return p.width * p.height * 3 }

// Process returns a newly allocated tensor for img.
func (p *Preprocessor) Process(img image.Image) []float32 {
	buffer := make([]float32, p.Len())
	p.Fill(buffer, img)
	return buffer
}

// Fill writes the tensor for img into dst, which must hold Len() floats.
func (p *Preprocessor) Fill(dst []float32, img image.Image) {
	if p.numWorkers == 1 {
		p.fillRows(dst, img, 0, p.height)
		return
	}

	rowsPerWorker := p.height / p.numWorkers

	var wg sync.WaitGroup
	wg.Add(p.numWorkers)
	for w := 0; w < p.numWorkers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker
		if w == p.numWorkers-1 {
			end = p.height
		}
		go func(start, end int) {
			defer wg.Done()
			p.fillRows(dst, img, start, end)
		}(start, end)
	}
	wg.Wait()
}

func (p *Preprocessor) fillRows(dst []float32, img image.Image, start, end int) {
	channelSize := p.width * p.height
	first, third := 0, 2*channelSize
	if p.order == BGR {
		first, third = third, first
	}
	second := channelSize
	scale := 1 / p.std

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := start; y < end; y++ {
			row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+p.width*4]
			offset := y * p.width
			for x := 0; x < p.width; x++ {
				px := row[x*4 : x*4+3 : x*4+3]
				i := offset + x
				dst[first+i] = (float32(px[0]) - p.mean) * scale
				dst[second+i] = (float32(px[1]) - p.mean) * scale
				dst[third+i] = (float32(px[2]) - p.mean) * scale
			}
		}
		return
	}

	origin := img.Bounds().Min
	for y := start; y < end; y++ {
		offset := y * p.width
		for x := 0; x < p.width; x++ {
			i := offset + x
			r, g, b, _ := img.At(origin.X+x, origin.Y+y).RGBA()
			dst[first+i] = (float32(r>>8) - p.mean) * scale
			dst[second+i] = (float32(g>>8) - p.mean) * scale
			dst[third+i] = (float32(b>>8) - p.mean) * scale
		}
	}
}
