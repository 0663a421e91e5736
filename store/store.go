// Package store is the embedding store gateway: the table of enrolled users
// and their face embeddings.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tutortoise/face-attendance-service/export"
	"github.com/Tutortoise/face-attendance-service/models"
)

// ErrNotFound is returned when a user id does not exist.
var ErrNotFound = errors.New("user not found")

// DefaultTable is the table name used when none is configured.
const DefaultTable = "users"

// Column names of the users table.
const (
	ColUserID     = "user_id"
	ColUsername   = "username"
	ColGender     = "gender"
	ColDepartment = "department"
	ColEmbedding  = "embedding"
	ColTimeAdded  = "time_added"
)

// Gateway is the remote table holding enrolled users.
type Gateway interface {
	// ListEmbeddings returns every (user_id, embedding) pair with the embedding
	// still in its persisted text form.
	ListEmbeddings(ctx context.Context) ([]models.StoredEmbedding, error)
	// GetUser returns the display record of a user or ErrNotFound.
	GetUser(ctx context.Context, id models.UserID) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	Insert(ctx context.Context, u models.NewUser) (models.User, error)
	// Delete removes a user or returns ErrNotFound.
	Delete(ctx context.Context, id models.UserID) error
	// ExportTable returns every stored column except the embedding.
	ExportTable(ctx context.Context) (export.Table, error)
	Close() error
}

// Open builds a gateway for the given driver.
func Open(ctx context.Context, driver, dsn, table string) (Gateway, error) {
	if table == "" {
		table = DefaultTable
	}
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "supabase":
		return NewPostgres(ctx, dsn, table)
	case "sqlite":
		return NewSQLite(ctx, dsn, table)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown gateway driver %q", driver)
	}
}

func attributes(gender, department string) map[string]string {
	return map[string]string{
		models.AttrGender:     gender,
		models.AttrDepartment: department,
	}
}

func normalizeNew(u models.NewUser) models.NewUser {
	if u.TimeAdded.IsZero() {
		u.TimeAdded = time.Now()
	}
	if u.Attributes == nil {
		u.Attributes = map[string]string{}
	}
	return u
}

// formatCell renders a scanned database value for export.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return string(val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// exportFromColumns drops the embedding column from a scanned table.
func exportFromColumns(cols []string, rows [][]any) export.Table {
	keep := make([]int, 0, len(cols))
	t := export.Table{}
	for i, c := range cols {
		if c == ColEmbedding {
			continue
		}
		keep = append(keep, i)
		t.Columns = append(t.Columns, c)
	}
	for _, r := range rows {
		out := make([]string, 0, len(keep))
		for _, i := range keep {
			out = append(out, formatCell(r[i]))
		}
		t.Rows = append(t.Rows, out)
	}
	return t
}
