package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goran-ethernal/CanvasIndexor/internal/db"
	"github.com/goran-ethernal/CanvasIndexor/internal/ledger/migrations"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	"github.com/russross/meddler"
)

const tableName = "skipped_ranges"

// SkippedRange is a block range the backfill gave up on.
type SkippedRange struct {
	ID        int64     `json:"id"`
	FromBlock uint64    `json:"fromBlock"`
	ToBlock   uint64    `json:"toBlock"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	SkippedAt time.Time `json:"skippedAt"`
}

type dbSkippedRange struct {
	ID        int64  `meddler:"id,pk"`
	FromBlock uint64 `meddler:"from_block"`
	ToBlock   uint64 `meddler:"to_block"`
	Reason    string `meddler:"reason"`
	Attempts  int    `meddler:"attempts"`
	SkippedAt int64  `meddler:"skipped_at"`
}

func (r *dbSkippedRange) toRange() SkippedRange {
	return SkippedRange{
		ID:        r.ID,
		FromBlock: r.FromBlock,
		ToBlock:   r.ToBlock,
		Reason:    r.Reason,
		Attempts:  r.Attempts,
		SkippedAt: time.Unix(r.SkippedAt, 0).UTC(),
	}
}

// Ledger records skipped backfill ranges in SQLite.
type Ledger struct {
	db   *sql.DB
	path string
	log  *logger.Logger
	now  func() time.Time
}

// Open opens (creating if needed) the ledger database and applies migrations.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*Ledger, error) {
	sqlDB, err := db.NewSQLiteDBFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if err := db.RunMigrationsDB(log, sqlDB, migrations.All()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate ledger database: %w", err)
	}

	l := &Ledger{
		db:   sqlDB,
		path: cfg.Path,
		log:  log,
		now:  time.Now,
	}

	count, err := l.Count(context.Background())
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	LedgerRangesSet(count)

	if size, err := db.TotalSize(cfg.Path); err == nil {
		log.Infow("ledger opened",
			"path", cfg.Path,
			"skipped_ranges", count,
			"size", humanize.Bytes(uint64(size)),
		)
	}

	return l, nil
}

// Record stores a skipped range.
func (l *Ledger) Record(ctx context.Context, from, to uint64, reason string, attempts int) error {
	row := &dbSkippedRange{
		FromBlock: from,
		ToBlock:   to,
		Reason:    reason,
		Attempts:  attempts,
		SkippedAt: l.now().Unix(),
	}

	if err := meddler.Insert(l.db, tableName, row); err != nil {
		LedgerWriteErrorInc()
		return fmt.Errorf("failed to record skipped range %d-%d: %w", from, to, err)
	}

	LedgerRangesInc()
	l.log.Warnw("skipped range recorded",
		"from_block", from,
		"to_block", to,
		"attempts", attempts,
		"reason", reason,
	)

	return nil
}

// List returns every skipped range ordered by starting block.
func (l *Ledger) List(ctx context.Context) ([]SkippedRange, error) {
	const query = `SELECT * FROM skipped_ranges ORDER BY from_block ASC, id ASC`

	var rows []*dbSkippedRange
	if err := meddler.QueryAll(l.db, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query skipped ranges: %w", err)
	}

	ranges := make([]SkippedRange, len(rows))
	for i, r := range rows {
		ranges[i] = r.toRange()
	}

	return ranges, nil
}

// Count returns the number of recorded skipped ranges.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var count int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM skipped_ranges`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count skipped ranges: %w", err)
	}

	return count, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
