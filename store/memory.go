package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Tutortoise/face-attendance-service/export"
	"github.com/Tutortoise/face-attendance-service/models"
)

type memoryRow struct {
	user      models.User
	embedding string
}

// Memory is an in-process gateway used for development and tests.
type Memory struct {
	mu     sync.RWMutex
	rows   map[models.UserID]memoryRow
	nextID models.UserID
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[models.UserID]memoryRow), nextID: 1}
}

func (m *Memory) sortedIDs() []models.UserID {
	ids := make([]models.UserID, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Memory) ListEmbeddings(ctx context.Context) ([]models.StoredEmbedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StoredEmbedding, 0, len(m.rows))
	for _, id := range m.sortedIDs() {
		out = append(out, models.StoredEmbedding{UserID: id, Embedding: m.rows[id].embedding})
	}
	return out, nil
}

func (m *Memory) GetUser(ctx context.Context, id models.UserID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := row.user
	u.Attributes = copyAttrs(row.user.Attributes)
	return &u, nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.User, 0, len(m.rows))
	for _, id := range m.sortedIDs() {
		u := m.rows[id].user
		u.Attributes = copyAttrs(u.Attributes)
		out = append(out, u)
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, nu models.NewUser) (models.User, error) {
	nu = normalizeNew(nu)
	enc, err := EncodeEmbedding(nu.Embedding)
	if err != nil {
		return models.User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u := models.User{
		ID:       m.nextID,
		Username: nu.Username,
		Attributes: attributes(
			nu.Attributes[models.AttrGender],
			nu.Attributes[models.AttrDepartment],
		),
		TimeAdded: nu.TimeAdded,
	}
	m.nextID++
	m.rows[u.ID] = memoryRow{user: u, embedding: enc}
	return u, nil
}

func (m *Memory) Delete(ctx context.Context, id models.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *Memory) ExportTable(ctx context.Context) (export.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cols := []string{ColUserID, ColUsername, ColGender, ColDepartment, ColEmbedding, ColTimeAdded}
	rows := make([][]any, 0, len(m.rows))
	for _, id := range m.sortedIDs() {
		r := m.rows[id]
		rows = append(rows, []any{
			int64(id),
			r.user.Username,
			r.user.Attributes[models.AttrGender],
			r.user.Attributes[models.AttrDepartment],
			r.embedding,
			r.user.TimeAdded,
		})
	}
	return exportFromColumns(cols, rows), nil
}

func (m *Memory) Close() error { return nil }

func copyAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
