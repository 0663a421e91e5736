package state

import (
	"sync"
	"testing"

	"github.com/Tutortoise/face-attendance-service/models"
)

func resultOf(name string, n int) models.RecognitionResult {
	r := make(models.RecognitionResult, n)
	for i := range r {
		r[i] = models.RecognitionEntry{Username: name, FaceBox: models.FaceBox{X: i}}
	}
	return r
}

func TestShared_ReadStartsEmpty(t *testing.T) {
	s := New()
	r := s.Read()
	if r == nil || len(r) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", r)
	}
	if _, ok := s.UnknownEmbedding(); ok {
		t.Error("expected no unknown embedding at start")
	}
}

func TestShared_WriteReplacesAtomically(t *testing.T) {
	s := New()
	r1 := resultOf("first", 3)
	r2 := resultOf("second", 5)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 1)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := s.Read()
				if len(got) == 0 {
					continue
				}
				name := got[0].Username
				want := len(r1)
				if name == "second" {
					want = len(r2)
				}
				if len(got) != want {
					select {
					case errs <- "length does not match writer":
					default:
					}
				}
				for _, e := range got {
					if e.Username != name {
						select {
						case errs <- "mixed entries from two writes":
						default:
						}
					}
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		if i%2 == 0 {
			s.Write(r1)
		} else {
			s.Write(r2)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-errs:
		t.Fatal(msg)
	default:
	}
}

func TestShared_ReadReturnsCopy(t *testing.T) {
	s := New()
	id := models.UserID(4)
	s.Write(models.RecognitionResult{{UserID: &id, Username: "alice", Attributes: map[string]string{"gender": "F"}}})

	got := s.Read()
	got[0].Username = "mallory"
	*got[0].UserID = 99
	got[0].Attributes["gender"] = "M"

	again := s.Read()
	if again[0].Username != "alice" || *again[0].UserID != 4 || again[0].Attributes["gender"] != "F" {
		t.Errorf("mutating a read leaked into shared state: %+v", again[0])
	}
}

func TestShared_UnknownEmbeddingLastWriteWins(t *testing.T) {
	s := New()
	s.Publish(resultOf("a", 1), models.Embedding{1, 1})
	s.Publish(resultOf("b", 1), models.Embedding{2, 2})

	got, ok := s.UnknownEmbedding()
	if !ok || got[0] != 2 {
		t.Fatalf("expected latest unknown embedding, got %v (%v)", got, ok)
	}

	// A pass with only known faces keeps the previous unknown.
	s.Publish(resultOf("c", 1), nil)
	got, ok = s.UnknownEmbedding()
	if !ok || got[0] != 2 {
		t.Errorf("expected unknown embedding to survive a known-only pass, got %v", got)
	}

	// Peeking does not consume.
	if _, ok := s.UnknownEmbedding(); !ok {
		t.Error("expected unknown embedding to remain after read")
	}

	if !s.ClearUnknownIf(models.Embedding{2, 2}) {
		t.Error("expected the enrolled embedding to be cleared")
	}
	if _, ok := s.UnknownEmbedding(); ok {
		t.Error("expected unknown embedding to be cleared")
	}
}

func TestShared_ClearUnknownIfKeepsNewerUnknown(t *testing.T) {
	s := New()
	s.Publish(resultOf("a", 1), models.Embedding{1, 1})
	enrolled, _ := s.UnknownEmbedding()

	// Another pass sees a different unknown face while the insert runs.
	s.Publish(resultOf("b", 1), models.Embedding{3, 3})

	if s.ClearUnknownIf(enrolled) {
		t.Error("expected a newer unknown embedding not to be cleared")
	}
	got, ok := s.UnknownEmbedding()
	if !ok || got[0] != 3 {
		t.Errorf("unknown embedding = %v (%v), want the newer one", got, ok)
	}
}
