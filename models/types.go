package models

import (
	"strconv"
	"time"
)

// UserID identifies an enrolled user in the embedding store.
type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses the textual form used in URLs and form fields.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return UserID(n), nil
}

// Embedding is a fixed-length face descriptor.
type Embedding []float32

// Clone returns a copy that does not share the backing array.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Attribute keys stored alongside every user.
const (
	AttrGender     = "gender"
	AttrDepartment = "department"
)

// User is an enrolled person without the embedding.
type User struct {
	ID         UserID            `json:"user_id"`
	Username   string            `json:"username"`
	Attributes map[string]string `json:"attributes"`
	TimeAdded  time.Time         `json:"time_added"`
}

// NewUser is the enrollment payload written to the store.
type NewUser struct {
	Username   string
	Attributes map[string]string
	Embedding  Embedding
	TimeAdded  time.Time
}

// StoredEmbedding is one (user_id, embedding) row as persisted.
type StoredEmbedding struct {
	UserID    UserID
	Embedding string
}

// KnownFaceSet is a snapshot of the enrolled population.
// IDs and Embeddings always have the same length.
type KnownFaceSet struct {
	IDs        []UserID
	Embeddings []Embedding
	FetchedAt  time.Time
	TTL        time.Duration
}

func (k KnownFaceSet) Len() int {
	return len(k.IDs)
}

// Fresh reports whether the snapshot is still within its TTL at now.
func (k KnownFaceSet) Fresh(now time.Time) bool {
	return !k.FetchedAt.IsZero() && now.Sub(k.FetchedAt) < k.TTL
}

// FaceBox is a face rectangle in original-frame pixel coordinates.
type FaceBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RecognitionEntry describes one detected face of a processed frame.
type RecognitionEntry struct {
	UserID     *UserID           `json:"user_id"`
	Username   string            `json:"username"`
	Attributes map[string]string `json:"attributes"`
	FaceBox    FaceBox           `json:"face_box"`
	IsKnown    bool              `json:"is_known"`
}

// RecognitionResult holds the entries of one processing pass, in detector order.
type RecognitionResult []RecognitionEntry

// Clone deep-copies the result so callers can hand it out without sharing state.
func (r RecognitionResult) Clone() RecognitionResult {
	out := make(RecognitionResult, len(r))
	for i, e := range r {
		c := e
		if e.UserID != nil {
			id := *e.UserID
			c.UserID = &id
		}
		if e.Attributes != nil {
			c.Attributes = make(map[string]string, len(e.Attributes))
			for k, v := range e.Attributes {
				c.Attributes[k] = v
			}
		}
		out[i] = c
	}
	return out
}

type Detection struct {
	BBox       [4]int32
	Confidence float32
}

type ProcessingTimings struct {
	RequestID string
	Resize    time.Duration
	Detect    time.Duration
	Embed     time.Duration
	Match     time.Duration
	Total     time.Duration
}
