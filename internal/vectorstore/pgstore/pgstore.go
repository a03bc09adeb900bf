// Package pgstore stores embedded units in Postgres using the pgvector
// extension, one logical partition per collection name.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/mohammad-safakhou/svat/internal/vectorstore"
	"github.com/mohammad-safakhou/svat/models"
)

// Store is a vectorstore.Store backed by the collection_units table.
type Store struct {
	DB *sql.DB
}

var _ vectorstore.Store = (*Store)(nil)

// NewWithDSN opens and pings the database.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *Store) HasFingerprint(ctx context.Context, collection, fp string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM collection_units WHERE collection=$1 AND fingerprint=$2)`, collection, fp).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return exists, nil
}

func (s *Store) Fingerprints(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT fingerprint FROM collection_units WHERE collection=$1 ORDER BY fingerprint`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// InsertIfAbsent serialises writers per collection with a transaction-scoped
// advisory lock, then writes only when fp is not yet present. The unique
// (collection, fingerprint, ordinal) index backs the same guarantee.
func (s *Store) InsertIfAbsent(ctx context.Context, collection, fp string, units []models.Unit, vectors [][]float32) (n int, err error) {
	if len(units) != len(vectors) {
		return 0, fmt.Errorf("units and vectors length mismatch: %d != %d", len(units), len(vectors))
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, collection); err != nil {
		return 0, fmt.Errorf("lock collection: %w", err)
	}
	var exists bool
	if err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM collection_units WHERE collection=$1 AND fingerprint=$2)`, collection, fp).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check fingerprint: %w", err)
	}
	if exists {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO collection_units (id, collection, fingerprint, ordinal, page, content, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (collection, fingerprint, ordinal) DO NOTHING
`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for i, u := range units {
		meta := u.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaBytes, mErr := json.Marshal(meta)
		if mErr != nil {
			err = fmt.Errorf("marshal metadata: %w", mErr)
			return 0, err
		}
		res, xErr := stmt.ExecContext(ctx, uuid.NewString(), collection, fp, i, u.Page(), u.Content, string(metaBytes), pgvector.NewVector(vectors[i]))
		if xErr != nil {
			err = fmt.Errorf("insert unit %d: %w", i, xErr)
			return 0, err
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n += int(affected)
		}
	}
	return n, nil
}

func (s *Store) Search(ctx context.Context, collection string, query []float32, k int) ([]models.ScoredUnit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector must not be empty")
	}
	if k <= 0 {
		k = 3
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content, metadata, embedding <=> $2 AS distance
FROM collection_units
WHERE collection = $1
ORDER BY embedding <=> $2
LIMIT $3
`, collection, pgvector.NewVector(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ScoredUnit
	for rows.Next() {
		var (
			res       models.ScoredUnit
			metaBytes []byte
			distance  float64
		)
		if err := rows.Scan(&res.ID, &res.Unit.Content, &metaBytes, &distance); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &res.Unit.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		res.Score = 1 - distance
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM collection_units WHERE collection=$1`, collection).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
