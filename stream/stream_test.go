package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/Tutortoise/face-attendance-service/acquisition"
	"github.com/Tutortoise/face-attendance-service/models"
	"github.com/Tutortoise/face-attendance-service/scheduler"
	"github.com/Tutortoise/face-attendance-service/state"
)

func TestBroadcaster_NextSeesLatest(t *testing.T) {
	b := NewBroadcaster()
	b.Publish([]byte("a"))
	b.Publish([]byte("b"))

	frame, seq, err := b.Next(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(frame) != "b" || seq != 2 {
		t.Fatalf("Next = %q, %d; want latest frame", frame, seq)
	}
}

func TestBroadcaster_NextBlocksUntilPublish(t *testing.T) {
	b := NewBroadcaster()
	got := make(chan string, 1)
	go func() {
		frame, _, err := b.Next(context.Background(), 0)
		if err != nil {
			got <- err.Error()
			return
		}
		got <- string(frame)
	}()

	select {
	case v := <-got:
		t.Fatalf("Next returned %q before any publish", v)
	case <-time.After(50 * time.Millisecond):
	}

	b.Publish([]byte("frame"))
	select {
	case v := <-got:
		if v != "frame" {
			t.Fatalf("Next = %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake on publish")
	}
}

func TestBroadcaster_ContextCancel(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := b.Next(ctx, 0)
		errc <- err
	}()
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	b.Publish([]byte("last"))

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = b.Next(context.Background(), 1)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	b.Close()
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("subscriber %d err = %v, want ErrClosed", i, err)
		}
	}

	// a subscriber that has not seen the last frame still gets it
	if frame, _, err := b.Next(context.Background(), 0); err != nil || string(frame) != "last" {
		t.Fatalf("Next after close = %q, %v", frame, err)
	}
	b.Publish([]byte("ignored"))
	if frame, _ := b.Latest(); string(frame) != "last" {
		t.Fatal("publish after close must be ignored")
	}
}

type countingProcessor struct {
	shared *state.Shared
	calls  int
}

func (p *countingProcessor) Process(_ context.Context, img image.Image) (models.RecognitionResult, error) {
	p.calls++
	r := models.RecognitionResult{{Username: "Unknown", FaceBox: models.FaceBox{X: 1, Y: 1, Width: 4, Height: 4}}}
	p.shared.Write(r)
	return r, nil
}

func TestProducer_Run(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 6; i++ {
		if err := jpeg.Encode(&stream, image.NewGray(image.Rect(0, 0, 16, 12)), nil); err != nil {
			t.Fatal(err)
		}
	}

	shared := state.New()
	proc := &countingProcessor{shared: shared}
	out := NewBroadcaster()
	p := &Producer{
		Source:    acquisition.NewReaderSource(&stream),
		Gate:      scheduler.NewFrameModulus(2),
		Processor: proc,
		Results:   shared,
		Out:       out,
		Quality:   70,
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := p.Stats()
	if st.Frames != 6 || st.Processed != 3 || st.Skipped != 3 {
		t.Fatalf("stats = %+v", st)
	}
	if proc.calls != 3 {
		t.Fatalf("processor called %d times, want 3", proc.calls)
	}

	frame, seq := out.Latest()
	if seq != 6 {
		t.Fatalf("published %d frames, want 6", seq)
	}
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 16 {
		t.Fatalf("frame bounds = %v", img.Bounds())
	}

	if _, _, err := out.Next(context.Background(), seq); !errors.Is(err, ErrClosed) {
		t.Fatalf("broadcaster should be closed after Run, got %v", err)
	}
}
