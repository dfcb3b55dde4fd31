package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/soilsense/internal/models"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStorage implements Storage on SQLite or PostgreSQL.
type SQLStorage struct {
	db     *sql.DB
	driver string
	path   string
}

// Open connects to the history database and initializes the schema.
func Open(driver, dsn string) (*SQLStorage, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLiteStorage(dsn)
	case DriverPostgres:
		return NewPostgresStorage(dsn)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(DriverSQLite, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	s := &SQLStorage{db: db, driver: DriverSQLite, path: dbPath}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewPostgresStorage connects to PostgreSQL with dsn and initializes the schema.
func NewPostgresStorage(dsn string) (*SQLStorage, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &SQLStorage{db: db, driver: DriverPostgres}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS readings (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		reflectance TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_created_at ON readings(created_at);

	CREATE TABLE IF NOT EXISTS reading_results (
		reading_id TEXT NOT NULL,
		element_name TEXT NOT NULL,
		element_value REAL,
		kind TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (reading_id) REFERENCES readings(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_results_reading_id ON reading_results(reading_id);
	`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS readings (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		reflectance TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_created_at ON readings(created_at);

	CREATE TABLE IF NOT EXISTS reading_results (
		reading_id TEXT NOT NULL REFERENCES readings(id) ON DELETE CASCADE,
		element_name TEXT NOT NULL,
		element_value DOUBLE PRECISION,
		kind TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_results_reading_id ON reading_results(reading_id);
	`

func (s *SQLStorage) initSchema() error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	_, err := s.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStorage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SaveReading inserts a reading with its results and failures. A missing ID is
// assigned a UUID and a zero CreatedAt is set to now.
func (s *SQLStorage) SaveReading(ctx context.Context, r *models.Reading) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	reflectanceJSON, err := json.Marshal(r.Reflectance)
	if err != nil {
		return fmt.Errorf("failed to marshal reflectance: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO readings (id, source, reflectance, created_at) VALUES (?, ?, ?, ?)`),
		r.ID, r.Source, string(reflectanceJSON), r.CreatedAt,
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO reading_results (reading_id, element_name, element_value, kind, reason)
		 VALUES (?, ?, ?, ?, ?)`,
	))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, res := range r.Results {
		if _, err := stmt.ExecContext(ctx, r.ID, res.ElementName, res.ElementValue, "", ""); err != nil {
			return err
		}
	}
	for _, f := range r.Failures {
		if _, err := stmt.ExecContext(ctx, r.ID, f.ElementName, nil, string(f.Kind), f.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetReading returns a reading by ID.
func (s *SQLStorage) GetReading(ctx context.Context, id string) (*models.Reading, error) {
	var r models.Reading
	var reflectanceJSON string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, source, reflectance, created_at FROM readings WHERE id = ?`), id,
	).Scan(&r.ID, &r.Source, &reflectanceJSON, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reflectanceJSON), &r.Reflectance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reflectance: %w", err)
	}
	if err := s.attachResults(ctx, []*models.Reading{&r}); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReadings returns readings newest first.
func (s *SQLStorage) ListReadings(ctx context.Context, q models.HistoryQuery) ([]*models.Reading, error) {
	q.Normalize()
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, source, reflectance, created_at
		 FROM readings ORDER BY created_at DESC, id LIMIT ? OFFSET ?`),
		q.Limit, q.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []*models.Reading
	for rows.Next() {
		var r models.Reading
		var reflectanceJSON string
		if err := rows.Scan(&r.ID, &r.Source, &reflectanceJSON, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(reflectanceJSON), &r.Reflectance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reflectance of %s: %w", r.ID, err)
		}
		readings = append(readings, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachResults(ctx, readings); err != nil {
		return nil, err
	}
	return readings, nil
}

// attachResults loads results and failures for readings in one query, ordered by
// element name.
func (s *SQLStorage) attachResults(ctx context.Context, readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	byID := make(map[string]*models.Reading, len(readings))
	args := make([]interface{}, len(readings))
	for i, r := range readings {
		byID[r.ID] = r
		args[i] = r.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(readings)), ",")
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT reading_id, element_name, element_value, kind, reason
		 FROM reading_results WHERE reading_id IN (`+placeholders+`)
		 ORDER BY reading_id, element_name`), args...,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var readingID, name, kind, reason string
		var value sql.NullFloat64
		if err := rows.Scan(&readingID, &name, &value, &kind, &reason); err != nil {
			return err
		}
		r := byID[readingID]
		if kind == "" {
			r.Results = append(r.Results, models.PredictionResult{ElementName: name, ElementValue: value.Float64})
			continue
		}
		r.Failures = append(r.Failures, models.PredictionFailure{
			ElementName: name,
			Kind:        models.FailureKind(kind),
			Reason:      reason,
		})
	}
	return rows.Err()
}

// DeleteReading removes a reading and its results.
func (s *SQLStorage) DeleteReading(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM reading_results WHERE reading_id = ?`), id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM readings WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}

// CountReadings returns the total number of stored readings.
func (s *SQLStorage) CountReadings(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&count)
	return count, err
}

// Path returns the SQLite database file, or "" for PostgreSQL.
func (s *SQLStorage) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}
