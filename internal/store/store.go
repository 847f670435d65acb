package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"pinokio-tracker/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the single-file SQLite cache of repository records and API
// usage snapshots.
type Store struct {
	db    *sql.DB
	force bool
}

// Open opens (creating if needed) the store at path and applies any
// pending schema migrations. When force is set, every staleness check
// reports stale for the duration of the run.
func Open(path string, force bool) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running schema migrations: %w", err)
	}

	return &Store{db: db, force: force}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ShouldRefresh reports whether the record for name must be rebuilt:
// force mode, unknown name, or a stored updated_at that no longer
// matches the live value. This is the only staleness signal; upstream
// metadata is never re-checked on its own.
func (s *Store) ShouldRefresh(ctx context.Context, name string, observedUpdatedAt time.Time) (bool, error) {
	if s.force {
		return true, nil
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM repos WHERE name = ?`, name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading cached updated_at: %w", err)
	}
	return stored != formatTime(observedUpdatedAt), nil
}

// Upsert inserts or replaces the record matched by its unique name. The
// row identity is preserved across replacements. Upstream columns are
// written as NULL together when the record carries no upstream.
func (s *Store) Upsert(ctx context.Context, rec model.RepoRecord) error {
	var upName, upURL, upCreated, upUpdated, upIssues any
	if rec.Upstream != nil {
		upName = rec.Upstream.Name
		upURL = rec.Upstream.URL
		upCreated = formatTime(rec.Upstream.CreatedAt)
		upUpdated = formatTime(rec.Upstream.UpdatedAt)
		upIssues = rec.Upstream.OpenIssues
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repos (name, description, html_url, created_at, updated_at, pushed_at, open_issues,
		                   upstream_name, upstream_url, upstream_created_at, upstream_updated_at, upstream_open_issues,
		                   last_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		    description = excluded.description,
		    html_url = excluded.html_url,
		    created_at = excluded.created_at,
		    updated_at = excluded.updated_at,
		    pushed_at = excluded.pushed_at,
		    open_issues = excluded.open_issues,
		    upstream_name = excluded.upstream_name,
		    upstream_url = excluded.upstream_url,
		    upstream_created_at = excluded.upstream_created_at,
		    upstream_updated_at = excluded.upstream_updated_at,
		    upstream_open_issues = excluded.upstream_open_issues,
		    last_checked = excluded.last_checked`,
		rec.Name, rec.Description, rec.HTMLURL,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatTime(rec.PushedAt), rec.OpenIssues,
		upName, upURL, upCreated, upUpdated, upIssues,
		formatTime(rec.LastChecked),
	)
	if err != nil {
		return fmt.Errorf("upserting repository %q: %w", rec.Name, err)
	}
	return nil
}

// ReadAll returns every record committed so far, ordered by name.
func (s *Store) ReadAll(ctx context.Context) ([]model.RepoRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, html_url, created_at, updated_at, pushed_at, open_issues,
		       upstream_name, upstream_url, upstream_created_at, upstream_updated_at, upstream_open_issues,
		       last_checked
		FROM repos ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var records []model.RepoRecord
	for rows.Next() {
		var rec model.RepoRecord
		var description, createdAt, updatedAt, pushedAt, lastChecked sql.NullString
		var upName, upURL, upCreated, upUpdated sql.NullString
		var upIssues sql.NullInt64

		if err := rows.Scan(&rec.Name, &description, &rec.HTMLURL, &createdAt, &updatedAt, &pushedAt, &rec.OpenIssues,
			&upName, &upURL, &upCreated, &upUpdated, &upIssues, &lastChecked); err != nil {
			return nil, fmt.Errorf("scanning repository row: %w", err)
		}

		rec.Description = description.String
		rec.CreatedAt = parseTime(createdAt.String)
		rec.UpdatedAt = parseTime(updatedAt.String)
		rec.PushedAt = parseTime(pushedAt.String)
		rec.LastChecked = parseTime(lastChecked.String)

		if upName.Valid {
			rec.Upstream = &model.Upstream{
				Name:       upName.String,
				URL:        upURL.String,
				CreatedAt:  parseTime(upCreated.String),
				UpdatedAt:  parseTime(upUpdated.String),
				OpenIssues: int(upIssues.Int64),
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordUsage appends one usage snapshot to the api_usage log.
func (s *Store) RecordUsage(ctx context.Context, snap model.UsageSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_usage (last_run, calls_used, calls_remaining) VALUES (?, ?, ?)`,
		formatTime(snap.LastRun), snap.CallsUsed, snap.CallsRemaining,
	)
	if err != nil {
		return fmt.Errorf("recording API usage: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
