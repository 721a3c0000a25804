package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDBFromConfig opens the SQLite database described by cfg, creating
// its parent directory if needed. Pragmas go through the DSN so that every
// pooled connection gets them.
func NewSQLiteDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_journal_mode", cfg.JournalMode)
	params.Set("_synchronous", cfg.Synchronous)
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout))

	db, err := sql.Open("sqlite3", "file:"+cfg.Path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)

	// sql.Open is lazy, surface a bad path or pragma here
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}

	return db, nil
}

// TotalSize returns the combined size of the database file and its WAL/SHM
// companions. Missing files count as zero.
func TotalSize(dbPath string) (int64, error) {
	var total int64
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}

	return total, nil
}
