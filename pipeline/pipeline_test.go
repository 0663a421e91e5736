package pipeline

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/Tutortoise/face-attendance-service/models"
	"github.com/Tutortoise/face-attendance-service/recognition"
	"github.com/Tutortoise/face-attendance-service/state"
)

type staticKnown struct {
	set   models.KnownFaceSet
	calls int
}

func (k *staticKnown) Get(context.Context) models.KnownFaceSet {
	k.calls++
	return k.set
}

type stubEngine struct {
	pass recognition.Pass
	err  error
	seen models.KnownFaceSet
}

func (e *stubEngine) Recognize(_ context.Context, _ image.Image, known models.KnownFaceSet) (recognition.Pass, error) {
	e.seen = known
	return e.pass, e.err
}

func TestProcess_PublishesResultAndUnknown(t *testing.T) {
	known := &staticKnown{set: models.KnownFaceSet{IDs: []models.UserID{1}, Embeddings: []models.Embedding{{1}}}}
	engine := &stubEngine{pass: recognition.Pass{
		Result:      models.RecognitionResult{{Username: "Unknown"}},
		LastUnknown: models.Embedding{0.5},
	}}
	shared := state.New()
	p := New(known, engine, shared, true)

	got, err := p.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Username != "Unknown" {
		t.Fatalf("result = %+v", got)
	}
	if engine.seen.Len() != 1 {
		t.Fatal("engine did not receive the cached known set")
	}
	if read := shared.Read(); len(read) != 1 {
		t.Fatalf("state = %+v, want the published result", read)
	}
	if u, ok := shared.UnknownEmbedding(); !ok || u[0] != 0.5 {
		t.Fatalf("unknown = %v, %v", u, ok)
	}
}

func TestProcess_ErrorLeavesStateUntouched(t *testing.T) {
	shared := state.New()
	previous := models.RecognitionResult{{Username: "alice", IsKnown: true}}
	shared.Write(previous)

	p := New(&staticKnown{}, &stubEngine{err: errors.New("inference failed")}, shared, false)
	got, err := p.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if err == nil {
		t.Fatal("expected error")
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("result = %#v, want empty", got)
	}
	if read := shared.Read(); len(read) != 1 || read[0].Username != "alice" {
		t.Fatalf("state changed to %+v", read)
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	if got := requestID(ctx); got != "abc" {
		t.Fatalf("requestID = %q", got)
	}
	if got := requestID(context.Background()); got == "" {
		t.Fatal("expected a generated id")
	}
}
