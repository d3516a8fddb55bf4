package recorder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScalpSentinel/internal/model"
)

func sampleTrades() []model.TradeRecord {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	return []model.TradeRecord{
		{
			Timestamp: day.Add(14*time.Hour + 40*time.Minute), Ticker: "SPY", Direction: model.DirectionCall,
			Strike: 512, Expiration: day, EntryPrice: 5, ExitPrice: 5.8, Contracts: 2,
			PnLPct: 16, ExitReason: model.ExitProfitTarget,
		},
		{
			Timestamp: day.Add(24*time.Hour + 15*time.Hour), Ticker: "QQQ", Direction: model.DirectionPut,
			Strike: 430.5, Expiration: day.Add(24 * time.Hour), EntryPrice: 2.4, ExitPrice: 2.2, Contracts: 4,
			PnLPct: -8.3333, ExitReason: model.ExitStopLoss,
		},
	}
}

func assertSameTrade(t *testing.T, want, got model.TradeRecord) {
	t.Helper()
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp %s != %s", want.Timestamp, got.Timestamp)
	assert.True(t, want.Expiration.Equal(got.Expiration), "expiration %s != %s", want.Expiration, got.Expiration)
	assert.Equal(t, want.Ticker, got.Ticker)
	assert.Equal(t, want.Direction, got.Direction)
	assert.InDelta(t, want.Strike, got.Strike, 1e-9)
	assert.InDelta(t, want.EntryPrice, got.EntryPrice, 1e-9)
	assert.InDelta(t, want.ExitPrice, got.ExitPrice, 1e-9)
	assert.Equal(t, want.Contracts, got.Contracts)
	assert.InDelta(t, want.PnLPct, got.PnLPct, 1e-4)
	assert.Equal(t, want.ExitReason, got.ExitReason)
}

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	trades := sampleTrades()
	for _, tr := range trades {
		require.NoError(t, l.Append(ctx, tr))
	}

	all, err := l.Records(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for i := range trades {
		assertSameTrade(t, trades[i], all[i])
	}

	later, err := l.Records(ctx, trades[1].Timestamp.Truncate(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, "QQQ", later[0].Ticker)
}

func TestCSVLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trades.csv")
	l, err := NewCSVLedger(path)
	require.NoError(t, err)
	exerciseLedger(t, l)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(model.LedgerColumns, ","), lines[0])
	assert.Equal(t, "2024-03-04T14:40:00Z,SPY,call,512,2024-03-04,5,5.8,2,16.0000,profit target", lines[1])
}

func TestCSVLedgerReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	l, err := NewCSVLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), sampleTrades()[0]))

	reopened, err := NewCSVLedger(path)
	require.NoError(t, err)
	recs, err := reopened.Records(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCSVLedgerCorruptRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	content := strings.Join(model.LedgerColumns, ",") + "\nnot-a-time,SPY,call,1,2024-03-04,1,1,1,0,x\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l, err := NewCSVLedger(path)
	require.NoError(t, err)
	_, err = l.Records(context.Background(), time.Time{})
	assert.ErrorContains(t, err, "line 2")
}

func TestSQLiteLedger(t *testing.T) {
	l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "trades.db"), zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()
	exerciseLedger(t, l)
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	exerciseLedger(t, l)

	l.FailNext = assert.AnError
	assert.ErrorIs(t, l.Append(context.Background(), sampleTrades()[0]), assert.AnError)
	assert.NoError(t, l.Append(context.Background(), sampleTrades()[0]))
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleTrades())
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 50, s.WinRate, 1e-9)
	assert.InDelta(t, 16, s.Best, 1e-9)
	assert.InDelta(t, -8.3333, s.Worst, 1e-9)
	assert.InDelta(t, 7.6667, s.TotalPnLPct, 1e-9)

	assert.Equal(t, Stats{}, Summarize(nil))
}
