package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/savegress/pamflow/internal/identifier"
)

// SQLite is an embedded Backend and VenueStore
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// NewSQLite opens (and creates if needed) the database at path
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identifiers (
		value TEXT NOT NULL,
		type TEXT NOT NULL,
		system TEXT NOT NULL,
		created_at INTEGER DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (value, type, system)
	);

	CREATE TABLE IF NOT EXISTS namespaces (
		type TEXT PRIMARY KEY,
		system TEXT NOT NULL DEFAULT '',
		oid TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		prefix_pattern TEXT NOT NULL DEFAULT '',
		prefix_mode TEXT NOT NULL DEFAULT '',
		range_min INTEGER NOT NULL DEFAULT 0,
		range_max INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS venue_state (
		venue TEXT PRIMARY KEY,
		last_trigger TEXT NOT NULL,
		updated_at INTEGER DEFAULT (strftime('%s', 'now'))
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Exists(ctx context.Context, value, idType, system string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM identifiers WHERE value = ? AND type = ? AND system = ?`,
		value, idType, system).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check identifier: %w", err)
	}
	return true, nil
}

func (s *SQLite) Insert(ctx context.Context, value, idType, system string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identifiers (value, type, system) VALUES (?, ?, ?)`,
		value, idType, system)
	if err != nil {
		if isDuplicateError(err) {
			return identifier.ErrDuplicate
		}
		return fmt.Errorf("failed to insert identifier: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, value, idType, system string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM identifiers WHERE value = ? AND type = ? AND system = ?`,
		value, idType, system)
	if err != nil {
		return fmt.Errorf("failed to delete identifier: %w", err)
	}
	return nil
}

func (s *SQLite) MaxNumeric(ctx context.Context, idType, system string) (int64, bool, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(CAST(value AS INTEGER)) FROM identifiers
		WHERE type = ? AND system = ?
		  AND value <> '' AND length(value) <= 18 AND value NOT GLOB '*[^0-9]*'`,
		idType, system).Scan(&n)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read highest identifier: %w", err)
	}
	return n.Int64, n.Valid, nil
}

func (s *SQLite) Namespace(ctx context.Context, idType string) (identifier.Namespace, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT type, system, oid, display_name, prefix_pattern, prefix_mode, range_min, range_max
		FROM namespaces WHERE type = ?`, idType)

	ns, err := scanNamespace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identifier.Namespace{}, false, nil
	}
	if err != nil {
		return identifier.Namespace{}, false, fmt.Errorf("failed to get namespace: %w", err)
	}
	return ns, true, nil
}

func (s *SQLite) Namespaces(ctx context.Context) ([]identifier.Namespace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, system, oid, display_name, prefix_pattern, prefix_mode, range_min, range_max
		FROM namespaces ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	defer rows.Close()

	out := []identifier.Namespace{}
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan namespace: %w", err)
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func (s *SQLite) PutNamespace(ctx context.Context, ns identifier.Namespace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO namespaces (type, system, oid, display_name, prefix_pattern, prefix_mode, range_min, range_max)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type) DO UPDATE SET
			system = excluded.system,
			oid = excluded.oid,
			display_name = excluded.display_name,
			prefix_pattern = excluded.prefix_pattern,
			prefix_mode = excluded.prefix_mode,
			range_min = excluded.range_min,
			range_max = excluded.range_max,
			updated_at = strftime('%s', 'now')`,
		ns.Type, ns.System, ns.OID, ns.DisplayName, ns.PrefixPattern, ns.PrefixMode, ns.RangeMin, ns.RangeMax)
	if err != nil {
		return fmt.Errorf("failed to store namespace: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteNamespace(ctx context.Context, idType string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM namespaces WHERE type = ?`, idType)
	if err != nil {
		return fmt.Errorf("failed to delete namespace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) LastTrigger(ctx context.Context, venue string) (string, error) {
	var trigger string
	err := s.db.QueryRowContext(ctx, `SELECT last_trigger FROM venue_state WHERE venue = ?`, venue).Scan(&trigger)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read venue state: %w", err)
	}
	return trigger, nil
}

func (s *SQLite) SetLastTrigger(ctx context.Context, venue, trigger string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO venue_state (venue, last_trigger) VALUES (?, ?)
		ON CONFLICT(venue) DO UPDATE SET
			last_trigger = excluded.last_trigger,
			updated_at = strftime('%s', 'now')`,
		venue, trigger)
	if err != nil {
		return fmt.Errorf("failed to write venue state: %w", err)
	}
	return nil
}

func (s *SQLite) ResetVenue(ctx context.Context, venue string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM venue_state WHERE venue = ?`, venue); err != nil {
		return fmt.Errorf("failed to reset venue state: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNamespace(row rowScanner) (identifier.Namespace, error) {
	var ns identifier.Namespace
	err := row.Scan(&ns.Type, &ns.System, &ns.OID, &ns.DisplayName,
		&ns.PrefixPattern, &ns.PrefixMode, &ns.RangeMin, &ns.RangeMax)
	return ns, err
}
