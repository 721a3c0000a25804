package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T, path string) *Ledger {
	t.Helper()

	cfg := config.DatabaseConfig{Path: path}
	cfg.ApplyDefaults()

	l, err := Open(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	return l
}

func TestLedger_RecordAndList(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, filepath.Join(t.TempDir(), "nested", "ledger.sqlite"))

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	require.NoError(t, l.Record(ctx, 2001, 3000, "rate_limited: too many requests", 6))
	require.NoError(t, l.Record(ctx, 1, 1000, "fatal: invalid params", 1))

	count, err := l.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	ranges, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, ranges, 2)

	require.Equal(t, uint64(1), ranges[0].FromBlock)
	require.Equal(t, uint64(1000), ranges[0].ToBlock)
	require.Equal(t, 1, ranges[0].Attempts)
	require.Equal(t, "fatal: invalid params", ranges[0].Reason)

	require.Equal(t, uint64(2001), ranges[1].FromBlock)
	require.Equal(t, 6, ranges[1].Attempts)
	require.True(t, fixed.Equal(ranges[1].SkippedAt))
}

func TestLedger_EmptyList(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "ledger.sqlite"))

	ranges, err := l.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, ranges)
}

func TestLedger_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.sqlite")

	first := openTestLedger(t, path)
	require.NoError(t, first.Record(ctx, 10, 20, "transient_network: connection reset", 6))
	require.NoError(t, first.Close())

	second := openTestLedger(t, path)
	count, err := second.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestLedger_RecordAfterCloseFails(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, l.Close())

	require.Error(t, l.Record(context.Background(), 1, 2, "fatal", 1))
}
