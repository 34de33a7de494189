package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gatekeeper/admission"
	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/risk"
	"github.com/rustyeddy/gatekeeper/trade"
)

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

type harness struct {
	bus       *MemBus
	ledger    *ledger.Ledger
	gateway   *Gateway
	decisions <-chan Message
	cancel    context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	l := ledger.New(ledger.Config{
		InitialCash:         10000,
		MaxPortfolioRiskPct: 10,
		ReservationTTL:      time.Minute,
	})
	store, err := risk.NewParamStore(testParams())
	require.NoError(t, err)

	bus := NewMemBus()
	cfg := DefaultConfig()
	cfg.DedupWindow = time.Minute
	g := New(bus, admission.New(l, store, nil), l, NewMemoryDedup(), nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	decisions, err := bus.Subscribe(ctx, cfg.DecisionTopic)
	require.NoError(t, err)

	go func() { _ = g.Run(ctx) }()
	t.Cleanup(cancel)

	// Wait until Run has subscribed, or proposals published immediately
	// after this harness returns are dropped by the in-memory bus.
	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subs[cfg.ProposalTopic]) > 0 && len(bus.subs[cfg.ExecutionTopic]) > 0
	}, 2*time.Second, time.Millisecond)

	return &harness{bus: bus, ledger: l, gateway: g, decisions: decisions, cancel: cancel}
}

func publishProposal(t *testing.T, h *harness, p trade.Proposal) {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), TopicProposal, body))
}

func awaitDecision(t *testing.T, h *harness) trade.Decision {
	t.Helper()
	select {
	case msg := <-h.decisions:
		var d trade.Decision
		require.NoError(t, json.Unmarshal(msg.Payload, &d))
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no decision published")
		return trade.Decision{}
	}
}

func btcProposal(corr string) trade.Proposal {
	return trade.Proposal{
		CorrelationID: corr,
		StrategyID:    "s1",
		Symbol:        "BTC/USDT",
		Side:          trade.SideBuy,
		Quantity:      0.01,
		Price:         50000,
		OrderType:     trade.OrderLimit,
		CreatedAt:     time.Now(),
	}
}

// Redelivering one proposal N times yields exactly one published
// decision; the rest are answered from the dedup cache.
func TestGateway_ExactlyOnceDecision(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	p := btcProposal("c1")

	for i := 0; i < 3; i++ {
		publishProposal(t, h, p)
	}

	d := awaitDecision(t, h)
	assert.Equal(t, "c1", d.CorrelationID)
	assert.Equal(t, trade.Approved, d.Result)

	select {
	case msg := <-h.decisions:
		t.Fatalf("second decision published: %s", msg.Payload)
	case <-time.After(200 * time.Millisecond):
	}

	// Only one reservation was taken for the three deliveries.
	assert.InDelta(t, 10, h.ledger.Snapshot().TotalRiskExposure, 1e-9)
}

func TestGateway_ExecutionCommitsFill(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	publishProposal(t, h, btcProposal("c1"))
	d := awaitDecision(t, h)
	require.Equal(t, trade.Approved, d.Result)

	body, err := json.Marshal(trade.Execution{
		CorrelationID:  "c1",
		FilledQuantity: 0.01,
		AveragePrice:   50000,
		Status:         trade.StatusFilled,
	})
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), TopicExecution, body))

	assert.Eventually(t, func() bool {
		snap := h.ledger.Snapshot()
		return snap.PositionCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_CancelledExecutionReleases(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	publishProposal(t, h, btcProposal("c1"))
	d := awaitDecision(t, h)
	require.Equal(t, trade.Approved, d.Result)
	require.InDelta(t, 10, h.ledger.Snapshot().TotalRiskExposure, 1e-9)

	body, err := json.Marshal(trade.Execution{
		CorrelationID: "c1",
		Status:        trade.StatusCancelled,
	})
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), TopicExecution, body))

	assert.Eventually(t, func() bool {
		return h.ledger.Snapshot().TotalRiskExposure == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_GeneratesMissingCorrelationID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	p := btcProposal("")
	publishProposal(t, h, p)

	d := awaitDecision(t, h)
	assert.NotEmpty(t, d.CorrelationID)
}

func TestGateway_UnparseableMessagesDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.bus.Publish(context.Background(), TopicProposal, []byte("{not json")))
	require.NoError(t, h.bus.Publish(context.Background(), TopicExecution, []byte("{not json")))

	// A well-formed proposal still flows afterwards.
	publishProposal(t, h, btcProposal("c9"))
	d := awaitDecision(t, h)
	assert.Equal(t, "c9", d.CorrelationID)
}

func TestGateway_ExecutionForUnknownReservationIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	body, err := json.Marshal(trade.Execution{CorrelationID: "ghost", Status: trade.StatusFilled, FilledQuantity: 1, AveragePrice: 10})
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), TopicExecution, body))

	publishProposal(t, h, btcProposal("c1"))
	d := awaitDecision(t, h)
	assert.Equal(t, trade.Approved, d.Result)
	assert.Equal(t, 0, h.ledger.Snapshot().PositionCount)
}
