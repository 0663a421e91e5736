package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tutortoise/face-attendance-service/models"
)

// DecodeEmbedding turns the persisted JSON text of an embedding into a vector.
// Empty text and JSON null decode to a nil embedding; anything that is not a
// JSON array of numbers is an error.
func DecodeEmbedding(s string) (models.Embedding, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return models.Embedding(vec), nil
}

// EncodeEmbedding renders an embedding as a JSON array. A nil embedding
// encodes to "null".
func EncodeEmbedding(e models.Embedding) (string, error) {
	if e == nil {
		return "null", nil
	}
	b, err := json.Marshal([]float32(e))
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}
	return string(b), nil
}
