package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/risk"
	"github.com/rustyeddy/gatekeeper/trade"
)

type staticQuotes map[string]float64

func (q staticQuotes) Price(symbol string) (float64, bool) {
	px, ok := q[symbol]
	return px, ok
}

func testParams() risk.Params {
	return risk.Params{
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
}

func testEngine(t *testing.T, params risk.Params, quotes QuoteSource) (*Engine, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.Config{
		InitialCash:         10000,
		MaxPortfolioRiskPct: params.MaxPortfolioRiskPct,
		ReservationTTL:      time.Minute,
	})
	store, err := risk.NewParamStore(params)
	require.NoError(t, err)
	return New(l, store, quotes), l
}

func btcProposal() trade.Proposal {
	return trade.Proposal{
		CorrelationID: "c1",
		StrategyID:    "s1",
		Symbol:        "BTC/USDT",
		Side:          trade.SideBuy,
		Quantity:      0.01,
		Price:         50000,
		OrderType:     trade.OrderLimit,
		CreatedAt:     time.Now(),
	}
}

// $500 trade on a $10k portfolio: 5% sizing passes, estimated risk $10,
// risk level high, stop suggested 2% below the signal price.
func TestAdmit_ApprovesAndSuggestsExits(t *testing.T) {
	t.Parallel()

	e, l := testEngine(t, testParams(), nil)
	d := e.Admit(context.Background(), btcProposal())

	require.Equal(t, trade.Approved, d.Result)
	assert.InDelta(t, 0.01, d.ApprovedQuantity, 1e-12)
	assert.Equal(t, trade.RiskHigh, d.RiskLevel)
	assert.InDelta(t, 10, d.EstimatedRiskAmount, 1e-9)
	assert.InDelta(t, 5, d.PortfolioImpact, 1e-9)
	assert.InDelta(t, 49000, d.SuggestedStopLoss, 1e-9)
	assert.InDelta(t, 52000, d.SuggestedTakeProfit, 1e-9)

	// The reservation is held pending execution confirmation.
	assert.InDelta(t, 10, l.Snapshot().TotalRiskExposure, 1e-9)
	_, ok := l.Lookup(d.CorrelationID)
	assert.True(t, ok)
}

func TestAdmit_SellExitsAreInverted(t *testing.T) {
	t.Parallel()

	e, _ := testEngine(t, testParams(), nil)
	p := btcProposal()
	p.Side = trade.SideSell

	d := e.Admit(context.Background(), p)
	require.Equal(t, trade.Approved, d.Result)
	assert.InDelta(t, 51000, d.SuggestedStopLoss, 1e-9)
	assert.InDelta(t, 48000, d.SuggestedTakeProfit, 1e-9)
}

func TestAdmit_EmergencyStopRejectsEverything(t *testing.T) {
	t.Parallel()

	e, l := testEngine(t, testParams(), nil)
	l.SetBreaker(ledger.EmergencyStop, true)

	d := e.Admit(context.Background(), btcProposal())
	assert.Equal(t, trade.Rejected, d.Result)
	assert.Zero(t, d.ApprovedQuantity)
	assert.Equal(t, []string{"Emergency stop is active"}, d.Reasons)
}

// Two concurrent proposals each holding 6% of a 10% budget: exactly one
// approval, one budget-exhaustion rejection.
func TestAdmit_ConcurrentBudgetRace(t *testing.T) {
	t.Parallel()

	e, l := testEngine(t, testParams(), nil)

	mk := func(corr string) trade.Proposal {
		return trade.Proposal{
			CorrelationID: corr,
			StrategyID:    "s1",
			Symbol:        "BTC/USDT",
			Side:          trade.SideSell,
			Quantity:      0.01,
			Price:         50000,
			StopLoss:      110000, // $600 estimated risk, 6% of the portfolio
			OrderType:     trade.OrderLimit,
		}
	}

	var wg sync.WaitGroup
	decisions := make([]trade.Decision, 2)
	for i, corr := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(i int, corr string) {
			defer wg.Done()
			decisions[i] = e.Admit(context.Background(), mk(corr))
		}(i, corr)
	}
	wg.Wait()

	approved, rejected := 0, 0
	for _, d := range decisions {
		switch d.Result {
		case trade.Approved:
			approved++
		case trade.Rejected:
			rejected++
			// Depending on interleaving the loser is caught either by the
			// pre-filter rule or by the reserve race itself.
			require.Len(t, d.Reasons, 1)
			assert.Contains(t, d.Reasons[0], "budget")
		}
	}
	assert.Equal(t, 1, approved)
	assert.Equal(t, 1, rejected)
	assert.LessOrEqual(t, l.Snapshot().TotalRiskExposure, 1000.0+1e-9)
}

func TestAdmit_PriceUnavailable(t *testing.T) {
	t.Parallel()

	e, _ := testEngine(t, testParams(), nil)
	p := btcProposal()
	p.Price = 0
	p.OrderType = trade.OrderMarket

	d := e.Admit(context.Background(), p)
	assert.Equal(t, trade.Rejected, d.Result)
	assert.Equal(t, []string{"price unavailable"}, d.Reasons)
}

func TestAdmit_MarketOrderUsesQuoteSource(t *testing.T) {
	t.Parallel()

	e, _ := testEngine(t, testParams(), staticQuotes{"BTC/USDT": 50000})
	p := btcProposal()
	p.Price = 0
	p.OrderType = trade.OrderMarket

	d := e.Admit(context.Background(), p)
	assert.Equal(t, trade.Approved, d.Result)
	assert.InDelta(t, 49000, d.SuggestedStopLoss, 1e-9)
}

func TestAdmit_ApprovalInvariant(t *testing.T) {
	t.Parallel()

	e, _ := testEngine(t, testParams(), nil)

	cases := []trade.Proposal{
		btcProposal(),
		func() trade.Proposal { p := btcProposal(); p.CorrelationID = "c2"; p.Price = 0; return p }(),
		func() trade.Proposal { p := btcProposal(); p.CorrelationID = "c3"; p.Quantity = 5; return p }(),
	}

	for _, p := range cases {
		d := e.Admit(context.Background(), p)
		if d.Result == trade.Approved {
			assert.Greater(t, d.ApprovedQuantity, 0.0)
			assert.LessOrEqual(t, d.ApprovedQuantity, p.Quantity)
		} else {
			assert.Zero(t, d.ApprovedQuantity)
		}
	}
}

func TestAdmit_ExtremeRiskRequiresApproval(t *testing.T) {
	t.Parallel()

	params := testParams()
	params.MaxPositionSizePct = 20

	e, l := testEngine(t, params, nil)
	p := btcProposal()
	p.Quantity = 0.02 // $1000 = 10% of the portfolio

	d := e.Admit(context.Background(), p)
	assert.Equal(t, trade.RequiresApproval, d.Result)
	assert.Zero(t, d.ApprovedQuantity)
	assert.Equal(t, trade.RiskExtreme, d.RiskLevel)
	assert.NotEmpty(t, d.Warnings)

	// No reservation is held for a decision awaiting an operator.
	assert.InDelta(t, 0, l.Snapshot().TotalRiskExposure, 1e-9)
}

func TestAdmit_ZeroPortfolioRejectsCleanly(t *testing.T) {
	t.Parallel()

	l := ledger.New(ledger.Config{InitialCash: 0, MaxPortfolioRiskPct: 10})
	store, err := risk.NewParamStore(testParams())
	require.NoError(t, err)
	e := New(l, store, nil)

	d := e.Admit(context.Background(), btcProposal())
	assert.Equal(t, trade.Rejected, d.Result)
	assert.Equal(t, []string{"portfolio value is zero"}, d.Reasons)
}

func TestAdmit_StoppedEngineRejects(t *testing.T) {
	t.Parallel()

	e, _ := testEngine(t, testParams(), nil)
	e.Stop()

	d := e.Admit(context.Background(), btcProposal())
	assert.Equal(t, trade.Rejected, d.Result)
	assert.Equal(t, []string{"admission engine is not running"}, d.Reasons)
}

func TestAdmit_CancelledContextRejects(t *testing.T) {
	t.Parallel()

	e, _ := testEngine(t, testParams(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := e.Admit(ctx, btcProposal())
	assert.Equal(t, trade.Rejected, d.Result)
	assert.Equal(t, []string{"admission timed out"}, d.Reasons)
}

func TestSweeper_ReleasesExpired(t *testing.T) {
	t.Parallel()

	l := ledger.New(ledger.Config{
		InitialCash:         10000,
		MaxPortfolioRiskPct: 10,
		ReservationTTL:      10 * time.Millisecond,
	})
	_, err := l.Reserve("c1", "BTC/USDT", trade.SideBuy, "s1", 100)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewSweeper(l, 5*time.Millisecond).Run(ctx)

	assert.Eventually(t, func() bool {
		return l.Snapshot().TotalRiskExposure == 0
	}, time.Second, 5*time.Millisecond)
}
