// Package facecache keeps an in-memory snapshot of the enrolled embeddings.
package facecache

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Tutortoise/face-attendance-service/models"
	"github.com/Tutortoise/face-attendance-service/store"
)

// DefaultTTL bounds how stale the snapshot may get without an explicit
// invalidation.
const DefaultTTL = 5 * time.Minute

// FetchTimeout bounds one gateway fetch.
const FetchTimeout = 30 * time.Second

// Source is the part of the gateway the cache reads from.
type Source interface {
	ListEmbeddings(ctx context.Context) ([]models.StoredEmbedding, error)
}

// Cache serves KnownFaceSet snapshots, refetching on expiry or invalidation.
type Cache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	snapshot   *models.KnownFaceSet
	generation uint64

	group   singleflight.Group
	fetches uint64 // guarded by mu
}

func New(src Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{src: src, ttl: ttl, now: time.Now}
}

// Get returns the current known faces. It never fails: a gateway error yields
// an empty set, which matches nobody.
func (c *Cache) Get(ctx context.Context) models.KnownFaceSet {
	c.mu.Lock()
	if c.snapshot != nil && c.snapshot.Fresh(c.now()) {
		snap := *c.snapshot
		c.mu.Unlock()
		return snap
	}
	gen := c.generation
	c.mu.Unlock()

	// Keyed by generation so callers after an Invalidate never join a fetch
	// that started before it.
	v, _, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		// Shared by every caller of this generation, so it must not end with
		// the first caller's request.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()
		return c.refresh(fetchCtx, gen), nil
	})
	return v.(models.KnownFaceSet)
}

func (c *Cache) refresh(ctx context.Context, gen uint64) models.KnownFaceSet {
	c.mu.Lock()
	c.fetches++
	c.mu.Unlock()

	rows, err := c.src.ListEmbeddings(ctx)
	if err != nil {
		log.Printf("known faces: fetch failed, treating everyone as unknown: %v", err)
		return models.KnownFaceSet{TTL: c.ttl}
	}

	set := models.KnownFaceSet{
		IDs:        make([]models.UserID, 0, len(rows)),
		Embeddings: make([]models.Embedding, 0, len(rows)),
		FetchedAt:  c.now(),
		TTL:        c.ttl,
	}
	for _, row := range rows {
		vec, err := store.DecodeEmbedding(row.Embedding)
		if err != nil {
			log.Printf("known faces: skipping user %s: %v", row.UserID, err)
			continue
		}
		if len(vec) == 0 {
			continue
		}
		set.IDs = append(set.IDs, row.UserID)
		set.Embeddings = append(set.Embeddings, vec)
	}

	c.mu.Lock()
	// An Invalidate during the fetch means rows may predate a write.
	if c.generation == gen {
		snap := set
		c.snapshot = &snap
	}
	c.mu.Unlock()
	return set
}

// Invalidate forces the next Get to refetch from the gateway.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.generation++
	c.mu.Unlock()
}

// Fetches reports how many gateway fetches have been started.
func (c *Cache) Fetches() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}
