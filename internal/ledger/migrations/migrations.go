package migrations

import (
	_ "embed"

	"github.com/goran-ethernal/CanvasIndexor/internal/db"
)

//go:embed 001_skipped_ranges.sql
var mig001 string

// All returns the ledger schema migrations in order.
func All() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_skipped_ranges.sql",
			SQL: mig001,
		},
	}
}
