package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tutortoise/face-attendance-service/export"
	"github.com/Tutortoise/face-attendance-service/models"
)

// Postgres stores users in a PostgreSQL (or Supabase) table.
type Postgres struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
}

// NewPostgres connects and ensures the users table exists.
func NewPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres gateway: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL,
			gender TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			embedding TEXT,
			time_added TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, p.table))
	return err
}

func (p *Postgres) ListEmbeddings(ctx context.Context) ([]models.StoredEmbedding, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT user_id, COALESCE(embedding, '') FROM %s ORDER BY user_id`, p.table))
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

func (p *Postgres) GetUser(ctx context.Context, id models.UserID) (*models.User, error) {
	var (
		uid            int64
		username, g, d string
		added          time.Time
	)
	err := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT user_id, username, gender, department, time_added FROM %s WHERE user_id = $1`, p.table),
		int64(id)).Scan(&uid, &username, &g, &d, &added)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:         models.UserID(uid),
		Username:   username,
		Attributes: attributes(g, d),
		TimeAdded:  added,
	}, nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT user_id, username, gender, department, time_added FROM %s ORDER BY user_id`, p.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var (
			uid            int64
			username, g, d string
			added          time.Time
		)
		if err := rows.Scan(&uid, &username, &g, &d, &added); err != nil {
			return nil, err
		}
		out = append(out, models.User{
			ID:         models.UserID(uid),
			Username:   username,
			Attributes: attributes(g, d),
			TimeAdded:  added,
		})
	}
	return out, rows.Err()
}

func (p *Postgres) Insert(ctx context.Context, nu models.NewUser) (models.User, error) {
	nu = normalizeNew(nu)
	var enc *string
	if nu.Embedding != nil {
		s, err := EncodeEmbedding(nu.Embedding)
		if err != nil {
			return models.User{}, err
		}
		enc = &s
	}

	g, d := nu.Attributes[models.AttrGender], nu.Attributes[models.AttrDepartment]
	var id int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (username, gender, department, embedding, time_added)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING user_id`, p.table),
		nu.Username, g, d, enc, nu.TimeAdded).Scan(&id)
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return models.User{
		ID:         models.UserID(id),
		Username:   nu.Username,
		Attributes: attributes(g, d),
		TimeAdded:  nu.TimeAdded,
	}, nil
}

func (p *Postgres) Delete(ctx context.Context, id models.UserID) error {
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, p.table), int64(id))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExportTable selects every column so that columns added to the table outside
// this service are exported too.
func (p *Postgres) ExportTable(ctx context.Context) (export.Table, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY user_id`, p.table))
	if err != nil {
		return export.Table{}, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var values [][]any
	for rows.Next() {
		v, err := rows.Values()
		if err != nil {
			return export.Table{}, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return export.Table{}, err
	}
	return exportFromColumns(cols, values), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
