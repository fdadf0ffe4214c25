package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	repo := &Repository{db: db, logger: logger}
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			display_name TEXT NOT NULL,
			wlan_ip TEXT NOT NULL,
			mac_address TEXT,
			description TEXT,
			model TEXT,
			board_id TEXT,
			firmware_version TEXT,
			firmware_mfg TEXT,
			api_version TEXT,
			ssid TEXT,
			channel TEXT,
			channel_bandwidth TEXT,
			band TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			grid_square TEXT,
			up_time_seconds INTEGER,
			load_averages_json TEXT,
			services_json TEXT,
			active_tunnel_count INTEGER NOT NULL,
			link_count INTEGER,
			radio_link_count INTEGER,
			dtd_link_count INTEGER,
			tunnel_link_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS links (
			source_id TEXT NOT NULL,
			destination_id TEXT NOT NULL,
			type TEXT NOT NULL,
			quality REAL,
			neighbor_quality REAL,
			signal INTEGER,
			noise INTEGER,
			tx_rate REAL,
			rx_rate REAL,
			cost REAL,
			distance_km REAL,
			bearing REAL,
			status TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			PRIMARY KEY (source_id, destination_id, type)
		);`,
		`CREATE TABLE IF NOT EXISTS poll_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			polling_duration_ms INTEGER NOT NULL,
			total_duration_ms INTEGER NOT NULL,
			node_count INTEGER NOT NULL,
			link_count INTEGER NOT NULL,
			error_count INTEGER NOT NULL,
			partial_topology INTEGER NOT NULL,
			errors_json TEXT NOT NULL,
			conflicts_json TEXT NOT NULL,
			stats_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS node_samples (
			run_id INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			up_time_seconds INTEGER,
			load_average REAL,
			link_count INTEGER,
			PRIMARY KEY (run_id, node_id)
		);`,
		`CREATE TABLE IF NOT EXISTS link_samples (
			run_id INTEGER NOT NULL,
			source_id TEXT NOT NULL,
			destination_id TEXT NOT NULL,
			type TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			cost REAL,
			quality REAL,
			signal INTEGER,
			noise INTEGER,
			PRIMARY KEY (run_id, source_id, destination_id, type)
		);`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_wlan_ip ON nodes(wlan_ip);`,
		`CREATE INDEX IF NOT EXISTS idx_links_status ON links(status);`,
		`CREATE INDEX IF NOT EXISTS idx_poll_runs_started ON poll_runs(started_at);`,
	}
	for _, stmt := range indexes {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func formatTime(v time.Time) string {
	return v.UTC().Format(time.RFC3339Nano)
}

func fromFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func toFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func toIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func toInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
