package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir  = ".todoline"
	defaultDBName = "todoline.db"
)

type Config struct {
	Workspace string
	// Path overrides the default database location inside the workspace.
	Path string
}

func dbPath(cfg Config) string {
	if cfg.Path != "" {
		if filepath.IsAbs(cfg.Path) {
			return cfg.Path
		}
		return filepath.Join(workspace(cfg.Workspace), cfg.Path)
	}
	return filepath.Join(workspace(cfg.Workspace), workspaceDir, defaultDBName)
}

func workspace(w string) string {
	if w == "" {
		return "."
	}
	return w
}

// EnsureWorkspace creates the workspace state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database, creating its directory when needed.
func Open(cfg Config) (*sql.DB, error) {
	path := dbPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return conn, nil
}

// Path returns the db path for the config.
func Path(cfg Config) string {
	return dbPath(cfg)
}
