package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/risk"
	"github.com/rustyeddy/gatekeeper/trade"
)

func newTestSQLite(t *testing.T) (*SQLiteJournal, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	for _, table := range []string{"decisions", "ledger_events", "positions", "account", "risk_params"} {
		assert.True(t, found[table], "missing table %s", table)
	}
}

func TestSQLiteAppendDecision(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)

	d := trade.Decision{
		CorrelationID:       "corr-1",
		Result:              trade.Approved,
		ApprovedQuantity:    0.01,
		RiskLevel:           trade.RiskHigh,
		Warnings:            []string{"position size near maximum"},
		SuggestedStopLoss:   49000,
		SuggestedTakeProfit: 52000,
		EstimatedRiskAmount: 10,
		PortfolioImpact:     5,
		DecidedAt:           time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	assert.NoError(t, j.AppendDecision(d))

	// A redelivered decision for the same correlation id must not
	// overwrite the first row.
	dup := d
	dup.Result = trade.Rejected
	assert.NoError(t, j.AppendDecision(dup))

	var result string
	err := j.db.QueryRow(`SELECT result FROM decisions WHERE correlation_id = ?`,
		"corr-1").Scan(&result)
	require.NoError(t, err)
	assert.Equal(t, string(trade.Approved), result)

	var count int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM decisions`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteAppendLedgerEvent(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)

	ev := ledger.Event{
		Kind:          ledger.EventReserve,
		CorrelationID: "corr-9",
		Handle:        "h-1",
		Symbol:        "BTC-USD",
		Amount:        10,
		At:            time.Now().UTC(),
	}
	assert.NoError(t, j.AppendLedgerEvent(ev))
	assert.NoError(t, j.AppendLedgerEvent(ev)) // each append gets its own row id

	var count int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM ledger_events`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestSQLitePositionsRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)

	positions := []ledger.PositionRecord{
		{Symbol: "BTC-USD", StrategyID: "momo", Side: trade.SideBuy, Size: 0.5, EntryPrice: 50000, RealizedPnL: -12.5, Lots: 2, Risk: 250},
		{Symbol: "ETH-USD", StrategyID: "grid", Side: trade.SideSell, Size: 3, EntryPrice: 3000, RealizedPnL: 40, Lots: 1, Risk: 90},
	}
	require.NoError(t, j.SavePositions(positions, 1234.56))

	got, cash, err := j.LoadPositions()
	require.NoError(t, err)
	assert.Equal(t, 1234.56, cash)
	assert.ElementsMatch(t, positions, got)

	// A second save replaces the prior set, it does not accumulate.
	require.NoError(t, j.SavePositions(positions[:1], 999))

	got, cash, err = j.LoadPositions()
	require.NoError(t, err)
	assert.Equal(t, 999.0, cash)
	assert.Len(t, got, 1)
	assert.Equal(t, "BTC-USD", got[0].Symbol)
}

func TestSQLiteLoadPositionsEmpty(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)

	got, cash, err := j.LoadPositions()
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, cash)
}

func TestSQLiteParamsRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)

	_, ok, err := j.LoadParams()
	require.NoError(t, err)
	assert.False(t, ok)

	p := risk.Params{
		Version:               1,
		MaxPositionSizePct:    5,
		MaxDailyLossPct:       3,
		MaxPortfolioRiskPct:   10,
		StopLossPct:           2,
		TakeProfitPct:         4,
		MinTradeAmount:        10,
		MaxTradeAmount:        100000,
		MaxPositionsPerSymbol: 3,
		MaxTotalPositions:     10,
	}
	require.NoError(t, j.SaveParams(p))

	p2 := p
	p2.Version = 2
	p2.MaxDailyLossPct = 4
	require.NoError(t, j.SaveParams(p2))

	got, ok, err := j.LoadParams()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, p2, got, "latest version wins")
}
