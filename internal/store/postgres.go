package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savegress/pamflow/internal/identifier"
)

const uniqueViolation = "23505"

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// Postgres is a PostgreSQL Backend and VenueStore
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, checks the connection and creates the schema
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS identifiers (
			value TEXT NOT NULL,
			type TEXT NOT NULL,
			system TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (value, type, system)
		);

		CREATE TABLE IF NOT EXISTS namespaces (
			type TEXT PRIMARY KEY,
			system TEXT NOT NULL DEFAULT '',
			oid TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			prefix_pattern TEXT NOT NULL DEFAULT '',
			prefix_mode TEXT NOT NULL DEFAULT '',
			range_min BIGINT NOT NULL DEFAULT 0,
			range_max BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS venue_state (
			venue TEXT PRIMARY KEY,
			last_trigger TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

func (p *Postgres) Exists(ctx context.Context, value, idType, system string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM identifiers WHERE value = $1 AND type = $2 AND system = $3)`,
		value, idType, system).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check identifier: %w", err)
	}
	return exists, nil
}

func (p *Postgres) Insert(ctx context.Context, value, idType, system string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO identifiers (value, type, system) VALUES ($1, $2, $3)`,
		value, idType, system)
	if err != nil {
		var pgErr *pgconn.PgError
		if (errors.As(err, &pgErr) && pgErr.Code == uniqueViolation) || isDuplicateError(err) {
			return identifier.ErrDuplicate
		}
		return fmt.Errorf("failed to insert identifier: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, value, idType, system string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM identifiers WHERE value = $1 AND type = $2 AND system = $3`,
		value, idType, system)
	if err != nil {
		return fmt.Errorf("failed to delete identifier: %w", err)
	}
	return nil
}

func (p *Postgres) MaxNumeric(ctx context.Context, idType, system string) (int64, bool, error) {
	var n *int64
	err := p.pool.QueryRow(ctx, `
		SELECT MAX(value::BIGINT) FROM identifiers
		WHERE type = $1 AND system = $2 AND value ~ '^[0-9]{1,18}$'`,
		idType, system).Scan(&n)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read highest identifier: %w", err)
	}
	if n == nil {
		return 0, false, nil
	}
	return *n, true, nil
}

func (p *Postgres) Namespace(ctx context.Context, idType string) (identifier.Namespace, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT type, system, oid, display_name, prefix_pattern, prefix_mode, range_min, range_max
		FROM namespaces WHERE type = $1`, idType)

	ns, err := scanNamespace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return identifier.Namespace{}, false, nil
	}
	if err != nil {
		return identifier.Namespace{}, false, fmt.Errorf("failed to get namespace: %w", err)
	}
	return ns, true, nil
}

func (p *Postgres) Namespaces(ctx context.Context) ([]identifier.Namespace, error) {
	rows, err := p.pool.Query(ctx, `
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

func (p *Postgres) PutNamespace(ctx context.Context, ns identifier.Namespace) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO namespaces (type, system, oid, display_name, prefix_pattern, prefix_mode, range_min, range_max)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (type) DO UPDATE SET
			system = EXCLUDED.system,
			oid = EXCLUDED.oid,
			display_name = EXCLUDED.display_name,
			prefix_pattern = EXCLUDED.prefix_pattern,
			prefix_mode = EXCLUDED.prefix_mode,
			range_min = EXCLUDED.range_min,
			range_max = EXCLUDED.range_max,
			updated_at = now()`,
		ns.Type, ns.System, ns.OID, ns.DisplayName, ns.PrefixPattern, ns.PrefixMode, ns.RangeMin, ns.RangeMax)
	if err != nil {
		return fmt.Errorf("failed to store namespace: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteNamespace(ctx context.Context, idType string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM namespaces WHERE type = $1`, idType)
	if err != nil {
		return fmt.Errorf("failed to delete namespace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) LastTrigger(ctx context.Context, venue string) (string, error) {
	var trigger string
	err := p.pool.QueryRow(ctx, `SELECT last_trigger FROM venue_state WHERE venue = $1`, venue).Scan(&trigger)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read venue state: %w", err)
	}
	return trigger, nil
}

func (p *Postgres) SetLastTrigger(ctx context.Context, venue, trigger string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO venue_state (venue, last_trigger) VALUES ($1, $2)
		ON CONFLICT (venue) DO UPDATE SET last_trigger = EXCLUDED.last_trigger, updated_at = now()`,
		venue, trigger)
	if err != nil {
		return fmt.Errorf("failed to write venue state: %w", err)
	}
	return nil
}

func (p *Postgres) ResetVenue(ctx context.Context, venue string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM venue_state WHERE venue = $1`, venue); err != nil {
		return fmt.Errorf("failed to reset venue state: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
