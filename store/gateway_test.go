package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tutortoise/face-attendance-service/models"
)

// exerciseGateway runs the behaviour every backend must share.
func exerciseGateway(t *testing.T, gw Gateway) {
	t.Helper()
	ctx := context.Background()

	added := time.Date(2024, 9, 1, 8, 30, 0, 0, time.UTC)
	alice, err := gw.Insert(ctx, models.NewUser{
		Username:   "alice",
		Attributes: map[string]string{models.AttrGender: "F", models.AttrDepartment: "Informatics"},
		Embedding:  models.Embedding{0.25, 0.5, 0.75},
		TimeAdded:  added,
	})
	if err != nil {
		t.Fatalf("Insert alice failed: %v", err)
	}
	bob, err := gw.Insert(ctx, models.NewUser{Username: "bob", Embedding: models.Embedding{1, 0, 0}, TimeAdded: added})
	if err != nil {
		t.Fatalf("Insert bob failed: %v", err)
	}

	t.Run("GetUser", func(t *testing.T) {
		u, err := gw.GetUser(ctx, alice.ID)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if u.Username != "alice" {
			t.Errorf("expected username 'alice', got %q", u.Username)
		}
		if u.Attributes[models.AttrDepartment] != "Informatics" {
			t.Errorf("expected department 'Informatics', got %q", u.Attributes[models.AttrDepartment])
		}
		if !u.TimeAdded.Equal(added) {
			t.Errorf("expected time_added %v, got %v", added, u.TimeAdded)
		}
	})

	t.Run("ListEmbeddings", func(t *testing.T) {
		rows, err := gw.ListEmbeddings(ctx)
		if err != nil {
			t.Fatalf("ListEmbeddings failed: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(rows))
		}
		vec, err := DecodeEmbedding(rows[0].Embedding)
		if err != nil {
			t.Fatalf("stored embedding does not decode: %v", err)
		}
		if rows[0].UserID != alice.ID || len(vec) != 3 || vec[1] != 0.5 {
			t.Errorf("unexpected first row %+v (decoded %v)", rows[0], vec)
		}
	})

	t.Run("ExportTableOmitsEmbedding", func(t *testing.T) {
		table, err := gw.ExportTable(ctx)
		if err != nil {
			t.Fatalf("ExportTable failed: %v", err)
		}
		for _, c := range table.Columns {
			if c == ColEmbedding {
				t.Errorf("export must not contain the embedding column: %v", table.Columns)
			}
		}
		if len(table.Rows) != 2 {
			t.Fatalf("expected 2 export rows, got %d", len(table.Rows))
		}
		if table.Columns[0] != ColUserID || table.Rows[1][1] != "bob" {
			t.Errorf("unexpected export table %+v", table)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := gw.Delete(ctx, bob.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := gw.GetUser(ctx, bob.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := gw.Delete(ctx, bob.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		users, err := gw.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 1 || users[0].ID != alice.ID {
			t.Errorf("expected only alice to remain, got %+v", users)
		}
	})
}

func TestMemoryGateway(t *testing.T) {
	exerciseGateway(t, NewMemory())
}

func TestSQLiteGateway(t *testing.T) {
	ctx := context.Background()
	gw, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "attendance.db"), "face-recognition-with-flask")
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer gw.Close()

	exerciseGateway(t, gw)
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mongo", "", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
}
