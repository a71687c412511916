package database

import (
	"context"
	"log/slog"
	"time"
)

// Options selects and configures a backend.
type Options struct {
	// PostgresURL enables the hosted backend when non-empty.
	PostgresURL string
	// SQLitePath selects the SQLite local backend when non-empty.
	SQLitePath string
	// DataDir holds the JSON files used when neither database is configured.
	DataDir string
	// ProbeTimeout bounds the PostgreSQL availability check.
	ProbeTimeout time.Duration
}

// Open returns the hosted store when it is configured and reachable, and
// the local store otherwise. A failed probe is logged, not returned.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PostgresURL != "" {
		timeout := opts.ProbeTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		store, err := NewPostgres(probeCtx, opts.PostgresURL)
		cancel()
		if err == nil {
			logger.Info("using hosted store", "backend", store.DatabaseType())
			return store, nil
		}
		logger.Warn("hosted store unavailable, falling back to local storage", "error", err)
	}

	if opts.SQLitePath != "" {
		store, err := New(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using local store", "backend", store.DatabaseType(), "path", opts.SQLitePath)
		return store, nil
	}

	dir := opts.DataDir
	if dir == "" {
		dir = "data"
	}
	store, err := NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("using local store", "backend", store.DatabaseType(), "dir", dir)
	return store, nil
}
