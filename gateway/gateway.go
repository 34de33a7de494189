package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/metrics"
	"github.com/rustyeddy/gatekeeper/trade"
)

// Admitter decides one proposal. Satisfied by *admission.Engine.
type Admitter interface {
	Admit(ctx context.Context, p trade.Proposal) trade.Decision
}

// DecisionAppender durably records published decisions. Satisfied by the
// journal; may be nil.
type DecisionAppender interface {
	AppendDecision(d trade.Decision) error
}

// Config tunes the gateway's topics, dedup window and publish budget.
type Config struct {
	ProposalTopic  string
	DecisionTopic  string
	ExecutionTopic string
	DedupWindow    time.Duration
	AdmitTimeout   time.Duration
	PublishRetries int
	PublishBackoff time.Duration
}

// DefaultConfig returns the topic names from the external contract and
// conservative timing defaults.
func DefaultConfig() Config {
	return Config{
		ProposalTopic:  TopicProposal,
		DecisionTopic:  TopicDecision,
		ExecutionTopic: TopicExecution,
		DedupWindow:    10 * time.Minute,
		AdmitTimeout:   2 * time.Second,
		PublishRetries: 3,
		PublishBackoff: 100 * time.Millisecond,
	}
}

// Gateway translates broker messages into Admission Engine calls and
// decisions into published responses. It contains no business logic.
type Gateway struct {
	bus      Bus
	admitter Admitter
	ledger   *ledger.Ledger
	dedup    DedupStore
	journal  DecisionAppender
	cfg      Config
	breaker  *gobreaker.CircuitBreaker
}

// New wires a gateway. journal may be nil.
func New(bus Bus, admitter Admitter, l *ledger.Ledger, dedup DedupStore, journal DecisionAppender, cfg Config) *Gateway {
	st := gobreaker.Settings{Name: "decision-publish"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}

	return &Gateway{
		bus:      bus,
		admitter: admitter,
		ledger:   l,
		dedup:    dedup,
		journal:  journal,
		cfg:      cfg,
		breaker:  gobreaker.NewCircuitBreaker(st),
	}
}

// Run consumes proposals and execution confirmations until ctx is
// cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	proposals, err := g.bus.Subscribe(ctx, g.cfg.ProposalTopic)
	if err != nil {
		return err
	}
	executions, err := g.bus.Subscribe(ctx, g.cfg.ExecutionTopic)
	if err != nil {
		return err
	}

	log.Info().Str("proposals", g.cfg.ProposalTopic).
		Str("decisions", g.cfg.DecisionTopic).
		Str("executions", g.cfg.ExecutionTopic).
		Msg("gateway consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-proposals:
			g.handleProposal(ctx, msg.Payload)
		case msg := <-executions:
			g.handleExecution(msg.Payload)
		}
	}
}

func (g *Gateway) handleProposal(ctx context.Context, payload []byte) {
	var p trade.Proposal
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Msg("dropping unparseable proposal")
		return
	}
	if p.CorrelationID == "" {
		// A proposal without a correlation id still gets a decision, under
		// a generated id, so the publisher can be fixed rather than starved.
		p.CorrelationID = uuid.NewString()
		log.Warn().Str("correlation_id", p.CorrelationID).
			Msg("proposal arrived without correlation id")
	}

	// Redelivery: the cached decision already answered this proposal.
	if _, hit := g.dedup.Get(ctx, p.CorrelationID); hit {
		metrics.RecordDedupHit()
		log.Debug().Str("correlation_id", p.CorrelationID).Msg("duplicate proposal")
		return
	}

	admitCtx, cancel := context.WithTimeout(ctx, g.cfg.AdmitTimeout)
	d := g.admitter.Admit(admitCtx, p)
	cancel()

	body, err := json.Marshal(d)
	if err != nil {
		log.Error().Err(err).Str("correlation_id", p.CorrelationID).Msg("marshal decision")
		return
	}

	// Cache before publishing so a racing redelivery cannot trigger a
	// second admission run.
	g.dedup.Put(ctx, p.CorrelationID, body, g.cfg.DedupWindow)

	if g.journal != nil {
		if err := g.journal.AppendDecision(d); err != nil {
			log.Error().Err(err).Str("correlation_id", p.CorrelationID).Msg("journal decision")
		}
	}

	g.publishDecision(ctx, p.CorrelationID, body)
}

// publishDecision retries with bounded backoff inside a circuit breaker.
// On permanent failure the reservation is reclaimed by the TTL sweep, so
// capital is never stranded.
func (g *Gateway) publishDecision(ctx context.Context, correlationID string, body []byte) {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.PublishRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordPublishRetry()
			select {
			case <-ctx.Done():
				metrics.RecordPublishFailure()
				log.Error().Err(ctx.Err()).Str("correlation_id", correlationID).
					Msg("decision publish abandoned; TTL sweep will reclaim the reservation")
				return
			case <-time.After(g.cfg.PublishBackoff * time.Duration(attempt)):
			}
		}
		_, lastErr = g.breaker.Execute(func() (any, error) {
			return nil, g.bus.Publish(ctx, g.cfg.DecisionTopic, body)
		})
		if lastErr == nil {
			return
		}
	}

	metrics.RecordPublishFailure()
	log.Error().Err(lastErr).Str("correlation_id", correlationID).
		Msg("decision publish failed; TTL sweep will reclaim the reservation")
}

func (g *Gateway) handleExecution(payload []byte) {
	var ex trade.Execution
	if err := json.Unmarshal(payload, &ex); err != nil {
		log.Warn().Err(err).Msg("dropping unparseable execution")
		return
	}

	h, ok := g.ledger.Lookup(ex.CorrelationID)
	if !ok {
		log.Warn().Str("correlation_id", ex.CorrelationID).
			Msg("execution for unknown reservation")
		return
	}

	if ex.Status == trade.StatusFilled && ex.FilledQuantity > 0 {
		rec, err := g.ledger.Commit(h, ex)
		if err != nil {
			log.Error().Err(err).Str("correlation_id", ex.CorrelationID).Msg("commit fill")
			return
		}
		log.Info().Str("correlation_id", ex.CorrelationID).
			Str("symbol", rec.Symbol).Float64("size", rec.Size).
			Msg("fill committed")
		return
	}

	if err := g.ledger.Release(h); err != nil {
		log.Error().Err(err).Str("correlation_id", ex.CorrelationID).Msg("release reservation")
		return
	}
	metrics.RecordRelease(ex.Status)
	log.Info().Str("correlation_id", ex.CorrelationID).Str("status", ex.Status).
		Msg("reservation released")
}
