package datasets

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/beacon/internal/database"
	"github.com/aristath/beacon/internal/domain"
)

// Dataset kinds.
const (
	KindFund  = "fund"
	KindIndex = "index"
)

// Schema is the datasets DDL, applied by the owner of the database
// handle at startup. The UNIQUE constraint is the duplicate-date
// rejection: a dataset with two rows on one date is invalid input.
const Schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL CHECK (kind IN ('fund', 'index')),
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dataset_rows (
	dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	date       TEXT NOT NULL,
	value      REAL NOT NULL,
	nav        REAL,
	UNIQUE (dataset_id, date)
);
CREATE INDEX IF NOT EXISTS idx_dataset_rows_dataset ON dataset_rows(dataset_id, date);
`

// ErrDuplicateDate marks an upload with two rows on the same date.
var ErrDuplicateDate = errors.New("dataset contains duplicate dates")

// ErrNotFound marks a lookup for an unknown dataset id.
var ErrNotFound = errors.New("dataset not found")

// Dataset is the stored metadata for one uploaded series.
type Dataset struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists datasets and their rows.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new dataset repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateFund stores a fund dataset. Records are stored date-keyed; a
// duplicate date aborts the whole upload.
func (r *Repository) CreateFund(name string, records []domain.FundRecord) (*Dataset, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("fund dataset %q has no rows", name)
	}
	id := uuid.New().String()
	createdAt := time.Now()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"INSERT INTO datasets (id, name, kind, created_at) VALUES (?, ?, ?, ?)",
			id, name, KindFund, createdAt.Unix()); err != nil {
			return err
		}
		for _, rec := range records {
			var nav any
			if !math.IsNaN(rec.NAV) {
				nav = rec.NAV
			}
			if _, err := tx.Exec(
				"INSERT INTO dataset_rows (dataset_id, date, value, nav) VALUES (?, ?, ?, ?)",
				id, domain.Normalize(rec.Date).Format(domain.DateLayout), rec.Cashflow, nav); err != nil {
				return wrapUnique(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Dataset{ID: id, Name: name, Kind: KindFund, Rows: len(records), CreatedAt: createdAt}, nil
}

// CreateIndex stores an index dataset.
func (r *Repository) CreateIndex(name string, points []domain.PricePoint) (*Dataset, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("index dataset %q has no rows", name)
	}
	id := uuid.New().String()
	createdAt := time.Now()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"INSERT INTO datasets (id, name, kind, created_at) VALUES (?, ?, ?, ?)",
			id, name, KindIndex, createdAt.Unix()); err != nil {
			return err
		}
		for _, p := range points {
			if _, err := tx.Exec(
				"INSERT INTO dataset_rows (dataset_id, date, value) VALUES (?, ?, ?)",
				id, domain.Normalize(p.Date).Format(domain.DateLayout), p.Price); err != nil {
				return wrapUnique(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Dataset{ID: id, Name: name, Kind: KindIndex, Rows: len(points), CreatedAt: createdAt}, nil
}

// Get loads dataset metadata.
func (r *Repository) Get(id string) (*Dataset, error) {
	var ds Dataset
	var createdAt int64
	err := r.db.QueryRow(`
		SELECT d.id, d.name, d.kind, d.created_at, COUNT(r.date)
		FROM datasets d LEFT JOIN dataset_rows r ON r.dataset_id = d.id
		WHERE d.id = ?
		GROUP BY d.id
	`, id).Scan(&ds.ID, &ds.Name, &ds.Kind, &createdAt, &ds.Rows)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ds.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &ds, nil
}

// List returns all datasets, newest first.
func (r *Repository) List() ([]Dataset, error) {
	rows, err := r.db.Query(`
		SELECT d.id, d.name, d.kind, d.created_at, COUNT(r.date)
		FROM datasets d LEFT JOIN dataset_rows r ON r.dataset_id = d.id
		GROUP BY d.id
		ORDER BY d.created_at DESC, d.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var ds Dataset
		var createdAt int64
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Kind, &createdAt, &ds.Rows); err != nil {
			return nil, err
		}
		ds.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, ds)
	}
	return out, rows.Err()
}

// Delete removes a dataset and its rows.
func (r *Repository) Delete(id string) error {
	res, err := r.db.Exec("DELETE FROM datasets WHERE id = ?", id)
	if err != nil {
		return err
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

// FundRecords loads the rows of a fund dataset in date order.
func (r *Repository) FundRecords(id string) ([]domain.FundRecord, error) {
	if err := r.checkKind(id, KindFund); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(
		"SELECT date, value, nav FROM dataset_rows WHERE dataset_id = ? ORDER BY date", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FundRecord
	for rows.Next() {
		var dateStr string
		var value float64
		var nav sql.NullFloat64
		if err := rows.Scan(&dateStr, &value, &nav); err != nil {
			return nil, err
		}
		date, err := domain.ParseDate(dateStr)
		if err != nil {
			return nil, err
		}
		rec := domain.FundRecord{Date: date, Cashflow: value, NAV: math.NaN()}
		if nav.Valid {
			rec.NAV = nav.Float64
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PricePoints loads the rows of an index dataset in date order.
func (r *Repository) PricePoints(id string) ([]domain.PricePoint, error) {
	if err := r.checkKind(id, KindIndex); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(
		"SELECT date, value FROM dataset_rows WHERE dataset_id = ? ORDER BY date", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PricePoint
	for rows.Next() {
		var dateStr string
		var value float64
		if err := rows.Scan(&dateStr, &value); err != nil {
			return nil, err
		}
		date, err := domain.ParseDate(dateStr)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PricePoint{Date: date, Price: value})
	}
	return out, rows.Err()
}

func (r *Repository) checkKind(id, want string) error {
	var kind string
	err := r.db.QueryRow("SELECT kind FROM datasets WHERE id = ?", id).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if kind != want {
		return fmt.Errorf("dataset %s is a %s dataset, not %s", id, kind, want)
	}
	return nil
}

func wrapUnique(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrDuplicateDate, err)
	}
	return err
}
