package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tutortoise/face-attendance-service/acquisition"
	"github.com/Tutortoise/face-attendance-service/facecache"
	"github.com/Tutortoise/face-attendance-service/models"
	"github.com/Tutortoise/face-attendance-service/recognition"
	"github.com/Tutortoise/face-attendance-service/store"
)

var (
	errNoFace        = errors.New(MsgNoFace)
	errMultipleFaces = errors.New(MsgMultipleFaces)
)

// enroll stores a new user and drops the known-face snapshot so the next
// pass sees them.
func (s *AppState) enroll(ctx context.Context, u models.NewUser) (models.User, error) {
	return insertUser(ctx, s.Gateway, s.Cache, u)
}

func insertUser(ctx context.Context, gw store.Gateway, cache *facecache.Cache, u models.NewUser) (models.User, error) {
	user, err := gw.Insert(ctx, u)
	if err != nil {
		return models.User{}, err
	}
	if cache != nil {
		cache.Invalidate()
	}
	return user, nil
}

// photoEnroller enrolls users from still photos that show exactly one face.
type photoEnroller struct {
	detector recognition.Detector
	embedder recognition.Embedder
	gateway  store.Gateway
}

// EnrollFile enrolls the face in path. The username is the file name without
// its extension.
func (e *photoEnroller) EnrollFile(ctx context.Context, path string, attrs map[string]string) (models.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.User{}, err
	}
	username := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return e.Enroll(ctx, username, data, attrs)
}

func (e *photoEnroller) Enroll(ctx context.Context, username string, data []byte, attrs map[string]string) (models.User, error) {
	if strings.TrimSpace(username) == "" {
		return models.User{}, errors.New(MsgMissingUsername)
	}

	img, err := acquisition.Decode(data)
	if err != nil {
		return models.User{}, err
	}

	rects, err := e.detector.Detect(ctx, img)
	if err != nil {
		return models.User{}, fmt.Errorf("detect faces: %w", err)
	}
	switch {
	case len(rects) == 0:
		return models.User{}, errNoFace
	case len(rects) > 1:
		return models.User{}, errMultipleFaces
	}

	embeddings, err := e.embedder.Embed(ctx, img, rects)
	if err != nil {
		return models.User{}, fmt.Errorf("embed face: %w", err)
	}
	if len(embeddings) != 1 {
		return models.User{}, fmt.Errorf("embed face: got %d embeddings", len(embeddings))
	}

	return insertUser(ctx, e.gateway, nil, models.NewUser{
		Username:   username,
		Attributes: attrs,
		Embedding:  embeddings[0],
		TimeAdded:  time.Now(),
	})
}
