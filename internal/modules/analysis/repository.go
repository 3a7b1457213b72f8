package analysis

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/beacon/internal/envelope"
)

// Schema is the analysis history DDL, applied by the owner of the
// database handle at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	method      TEXT NOT NULL,
	fund_name   TEXT NOT NULL DEFAULT '',
	index_name  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	request     TEXT NOT NULL,
	envelope    TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_fingerprint ON analyses(fingerprint);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

// Record is one persisted analysis run.
type Record struct {
	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint"`
	Method      string            `json:"method"`
	FundName    string            `json:"fund_name,omitempty"`
	IndexName   string            `json:"index_name,omitempty"`
	Status      string            `json:"status"`
	Request     Request           `json:"request,omitempty"`
	Envelope    envelope.Envelope `json:"envelope"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Status values persisted with each record.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailure = "failure"
)

// StatusOf classifies an envelope into the persisted status string.
func StatusOf(env envelope.Envelope) string {
	switch {
	case !env.Success:
		return StatusFailure
	case env.Partial():
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// Repository persists analysis runs to the history database.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new analysis repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save stores one run and returns its generated id.
func (r *Repository) Save(fingerprint string, req Request, env envelope.Envelope) (string, error) {
	id := uuid.New().String()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	envJSON, err := json.Marshal(envelope.SanitizeForJSON(env))
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	method := req.Options.Method
	if method == "" {
		method = MethodKaplanSchoar
	}

	_, err = r.db.Exec(`
		INSERT INTO analyses (id, fingerprint, method, fund_name, index_name, status, request, envelope, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, fingerprint, method, req.FundName, req.IndexName, StatusOf(env),
		string(reqJSON), string(envJSON), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to save analysis: %w", err)
	}
	return id, nil
}

// GetByID loads one run. Returns sql.ErrNoRows when absent.
func (r *Repository) GetByID(id string) (*Record, error) {
	row := r.db.QueryRow(`
		SELECT id, fingerprint, method, fund_name, index_name, status, request, envelope, created_at
		FROM analyses WHERE id = ?
	`, id)
	return scanRecord(row, true)
}

// List returns the most recent runs, newest first, without request
// bodies (they can be large).
func (r *Repository) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, fingerprint, method, fund_name, index_name, status, envelope, created_at
		FROM analyses ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var envJSON string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.Fingerprint, &rec.Method, &rec.FundName,
			&rec.IndexName, &rec.Status, &envJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis row: %w", err)
		}
		if err := json.Unmarshal([]byte(envJSON), &rec.Envelope); err != nil {
			return nil, fmt.Errorf("failed to decode envelope for %s: %w", rec.ID, err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan removes runs created before the cutoff and returns
// how many were deleted.
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM analyses WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune analyses: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, withRequest bool) (*Record, error) {
	var rec Record
	var reqJSON, envJSON string
	var createdAt int64

	var err error
	if withRequest {
		err = row.Scan(&rec.ID, &rec.Fingerprint, &rec.Method, &rec.FundName,
			&rec.IndexName, &rec.Status, &reqJSON, &envJSON, &createdAt)
	} else {
		err = row.Scan(&rec.ID, &rec.Fingerprint, &rec.Method, &rec.FundName,
			&rec.IndexName, &rec.Status, &envJSON, &createdAt)
	}
	if err != nil {
		return nil, err
	}

	if reqJSON != "" {
		if err := json.Unmarshal([]byte(reqJSON), &rec.Request); err != nil {
			return nil, fmt.Errorf("failed to decode request for %s: %w", rec.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(envJSON), &rec.Envelope); err != nil {
		return nil, fmt.Errorf("failed to decode envelope for %s: %w", rec.ID, err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &rec, nil
}
