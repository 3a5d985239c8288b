package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			hashed_password TEXT NOT NULL,
			is_superuser INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS servers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			job_name TEXT NOT NULL,
			instance TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			server_id INTEGER NOT NULL,
			metric_name TEXT NOT NULL,
			promql TEXT NOT NULL,
			threshold REAL NOT NULL,
			comparison TEXT NOT NULL,
			repeat_interval_sec INTEGER NOT NULL DEFAULT 300,
			is_active INTEGER NOT NULL DEFAULT 1,
			channel TEXT NOT NULL DEFAULT 'telegram',
			FOREIGN KEY(server_id) REFERENCES servers(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_rule_id INTEGER NOT NULL,
			server_id INTEGER NOT NULL,
			metric_name TEXT NOT NULL,
			value REAL NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY(alert_rule_id) REFERENCES alert_rules(id) ON DELETE CASCADE,
			FOREIGN KEY(server_id) REFERENCES servers(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_rules_server ON alert_rules(server_id);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_created ON alert_events(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_rule_status_created ON alert_events(alert_rule_id, status, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
