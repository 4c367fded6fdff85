package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig describes the ledger's connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	ApplicationName string
	// SkipMigrations leaves the schema untouched on open.
	SkipMigrations bool
	Logger         *slog.Logger
}

// PostgresLedger writes entries to the download_history table.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger opens the pool and applies migrations unless disabled.
func NewPostgresLedger(ctx context.Context, cfg PostgresConfig) (*PostgresLedger, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	name := cfg.ApplicationName
	if name == "" {
		name = "audiofetch"
	}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = name

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if !cfg.SkipMigrations {
		if err := Migrate(ctx, pool, cfg.Logger); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) Record(ctx context.Context, entry Entry) error {
	entry = normalize(entry)
	_, err := l.pool.Exec(ctx,
		`INSERT INTO download_history (request_id, identity, url, title, outcome, error, duration_ms, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.RequestID, entry.Identity, entry.URL, entry.Title, string(entry.Outcome), entry.Error,
		entry.Duration.Milliseconds(), entry.At,
	)
	if err != nil {
		return fmt.Errorf("insert download history: %w", err)
	}
	return nil
}

// Recent returns the newest entries for identity. An empty identity matches
// every entry; a non-positive limit returns everything.
func (l *PostgresLedger) Recent(ctx context.Context, identity string, limit int) ([]Entry, error) {
	var maxRows any
	if limit > 0 {
		maxRows = limit
	}
	rows, err := l.pool.Query(ctx,
		`SELECT request_id, identity, url, title, outcome, error, duration_ms, recorded_at
		   FROM download_history
		  WHERE $1 = '' OR identity = $1
		  ORDER BY recorded_at DESC, id DESC
		  LIMIT $2`, identity, maxRows)
	if err != nil {
		return nil, fmt.Errorf("query download history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry      Entry
			outcome    string
			durationMS int64
		)
		if err := rows.Scan(&entry.RequestID, &entry.Identity, &entry.URL, &entry.Title, &outcome, &entry.Error, &durationMS, &entry.At); err != nil {
			return nil, fmt.Errorf("scan download history: %w", err)
		}
		entry.Outcome = Outcome(outcome)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate download history: %w", err)
	}
	return entries, nil
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close releases the pool, giving up when ctx ends first.
func (l *PostgresLedger) Close(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		l.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

var (
	_ Ledger = (*PostgresLedger)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)
