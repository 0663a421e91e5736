package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Tutortoise/face-attendance-service/export"
	"github.com/Tutortoise/face-attendance-service/models"
)

// SQLite stores users in a local SQLite file, for running without a remote
// database.
type SQLite struct {
	db    *sql.DB
	table string
}

// NewSQLite opens (or creates) the database file at path.
func NewSQLite(ctx context.Context, path, table string) (*SQLite, error) {
	if path == "" {
		path = "attendance.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, table: quoteIdent(table)}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLite) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			gender TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			embedding TEXT,
			time_added TEXT NOT NULL
		)`, s.table))
	return err
}

func (s *SQLite) ListEmbeddings(ctx context.Context) ([]models.StoredEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT user_id, COALESCE(embedding, '') FROM %s ORDER BY user_id`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StoredEmbedding
	for rows.Next() {
		var id int64
		var se models.StoredEmbedding
		if err := rows.Scan(&id, &se.Embedding); err != nil {
			return nil, err
		}
		se.UserID = models.UserID(id)
		out = append(out, se)
	}
	return out, rows.Err()
}

func scanSQLiteUser(sc interface{ Scan(...any) error }) (models.User, error) {
	var (
		id                    int64
		username, g, d, added string
	)
	if err := sc.Scan(&id, &username, &g, &d, &added); err != nil {
		return models.User{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, added)
	if err != nil {
		return models.User{}, fmt.Errorf("parse time_added %q: %w", added, err)
	}
	return models.User{ID: models.UserID(id), Username: username, Attributes: attributes(g, d), TimeAdded: t}, nil
}

func (s *SQLite) GetUser(ctx context.Context, id models.UserID) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT user_id, username, gender, department, time_added FROM %s WHERE user_id = ?`, s.table), int64(id))
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLite) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT user_id, username, gender, department, time_added FROM %s ORDER BY user_id`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLite) Insert(ctx context.Context, nu models.NewUser) (models.User, error) {
	nu = normalizeNew(nu)
	var enc sql.NullString
	if nu.Embedding != nil {
		str, err := EncodeEmbedding(nu.Embedding)
		if err != nil {
			return models.User{}, err
		}
		enc = sql.NullString{String: str, Valid: true}
	}

	g, d := nu.Attributes[models.AttrGender], nu.Attributes[models.AttrDepartment]
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (username, gender, department, embedding, time_added) VALUES (?, ?, ?, ?, ?)`, s.table),
		nu.Username, g, d, enc, nu.TimeAdded.Format(time.RFC3339Nano))
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, err
	}
	return models.User{
		ID:         models.UserID(id),
		Username:   nu.Username,
		Attributes: attributes(g, d),
		TimeAdded:  nu.TimeAdded,
	}, nil
}

func (s *SQLite) Delete(ctx context.Context, id models.UserID) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = ?`, s.table), int64(id))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ExportTable(ctx context.Context) (export.Table, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY user_id`, s.table))
	if err != nil {
		return export.Table{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return export.Table{}, err
	}
	var values [][]any
	for rows.Next() {
		v := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range v {
			ptrs[i] = &v[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return export.Table{}, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return export.Table{}, err
	}
	return exportFromColumns(cols, values), nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
