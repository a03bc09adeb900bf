// Package store persists accounts, processing results and extracted
// vulnerability records in Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/svat/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash, fullName string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash, full_name) VALUES ($1,$2,$3) RETURNING id`,
		strings.ToLower(strings.TrimSpace(email)), hash, fullName).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.DB.QueryRowContext(ctx, `SELECT id, email, full_name, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// Processing results

func (s *Store) CreateProcessingResult(ctx context.Context, r models.ProcessingResult) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO processing_results (user_id, file_name, collection_name, vector_collection, response, result_url)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		r.UserID, r.FileName, r.CollectionName, r.VectorCollection, string(r.Response), r.ResultURL).Scan(&id)
	return id, err
}

// GetProcessingResult returns the newest result a user stored under collection.
func (s *Store) GetProcessingResult(ctx context.Context, userID, collection string) (models.ProcessingResult, error) {
	var (
		r    models.ProcessingResult
		resp []byte
	)
	err := s.DB.QueryRowContext(ctx, `SELECT id, user_id, file_name, collection_name, vector_collection, response, result_url, created_at
FROM processing_results WHERE user_id=$1 AND collection_name=$2 ORDER BY created_at DESC LIMIT 1`, userID, collection).
		Scan(&r.ID, &r.UserID, &r.FileName, &r.CollectionName, &r.VectorCollection, &resp, &r.ResultURL, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Response = resp
	return r, nil
}

// CollectionOwnedBy reports whether userID has ingested into the vector
// collection.
func (s *Store) CollectionOwnedBy(ctx context.Context, userID, collection string) (bool, error) {
	var ok bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM processing_results WHERE user_id=$1 AND vector_collection=$2)`,
		userID, collection).Scan(&ok)
	return ok, err
}

// Vulnerability records

const insertVulnerability = `INSERT INTO vulnerabilities (user_id, vulnerability_name, cve_id, cwe_id, description, type, severity, risk,
  recommended_fix, cve_url, cwe_url, collection_name, file_name)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (vulnerability_name, cve_id, cwe_id, collection_name) DO NOTHING`

// SaveVulnerabilities inserts records in one transaction, ignoring ones whose
// natural key already exists. It returns the number of new rows.
func (s *Store) SaveVulnerabilities(ctx context.Context, userID string, vulns []models.Vulnerability) (n int, err error) {
	if len(vulns) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, insertVulnerability)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, v := range vulns {
		res, execErr := stmt.ExecContext(ctx, userID, v.Name, v.CVEID, v.CWEID, v.Description, v.Type, v.Severity, v.Risk,
			v.RecommendedFix, v.CVEURL, v.CWEURL, v.Collection, v.FileName)
		if execErr != nil {
			err = fmt.Errorf("insert vulnerability %q: %w", v.Name, execErr)
			return 0, err
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n += int(affected)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

const vulnerabilityColumns = `vulnerability_name, cve_id, cwe_id, description, type, severity, risk, recommended_fix, cve_url, cwe_url, collection_name, file_name`

// ListVulnerabilities returns a user's records, limited to one collection
// when collection is not empty.
func (s *Store) ListVulnerabilities(ctx context.Context, userID, collection string) ([]models.Vulnerability, error) {
	q := `SELECT ` + vulnerabilityColumns + ` FROM vulnerabilities WHERE user_id=$1`
	args := []interface{}{userID}
	if collection != "" {
		q += ` AND collection_name=$2`
		args = append(args, collection)
	}
	q += ` ORDER BY created_at, vulnerability_name`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVulnerabilities(rows, nil)
}

// OwnedVulnerability pairs a record with the account that stored it.
type OwnedVulnerability struct {
	UserID string
	models.Vulnerability
}

// ListAllVulnerabilities returns every stored record with its owner.
func (s *Store) ListAllVulnerabilities(ctx context.Context) ([]OwnedVulnerability, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT user_id, `+vulnerabilityColumns+` FROM vulnerabilities ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OwnedVulnerability
	for rows.Next() {
		var o OwnedVulnerability
		if err := rows.Scan(append([]interface{}{&o.UserID}, vulnerabilityDest(&o.Vulnerability)...)...); err != nil {
			return nil, err
		}
		o.Page = -1
		out = append(out, o)
	}
	return out, rows.Err()
}

func vulnerabilityDest(v *models.Vulnerability) []interface{} {
	return []interface{}{&v.Name, &v.CVEID, &v.CWEID, &v.Description, &v.Type, &v.Severity, &v.Risk,
		&v.RecommendedFix, &v.CVEURL, &v.CWEURL, &v.Collection, &v.FileName}
}

func scanVulnerabilities(rows *sql.Rows, out []models.Vulnerability) ([]models.Vulnerability, error) {
	for rows.Next() {
		var v models.Vulnerability
		if err := rows.Scan(vulnerabilityDest(&v)...); err != nil {
			return nil, err
		}
		v.Page = -1
		out = append(out, v)
	}
	return out, rows.Err()
}
