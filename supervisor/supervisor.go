package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/metrics"
	"github.com/rustyeddy/gatekeeper/risk"
)

// ParamSaver durably records a reloaded parameter version. Satisfied by
// the journal; may be nil.
type ParamSaver interface {
	SaveParams(p risk.Params) error
}

// Supervisor evaluates ledger aggregates and flips the circuit breakers
// the admission engine consults. The daily loss flag is monotonic within
// a trading day; emergency stop moves only on explicit operator commands.
type Supervisor struct {
	ledger   *ledger.Ledger
	params   *risk.ParamStore
	journal  ParamSaver
	interval time.Duration
	lastDay  time.Time
	now      func() time.Time
}

// New builds a supervisor ticking at the given interval. journal may be
// nil.
func New(l *ledger.Ledger, params *risk.ParamStore, journal ParamSaver, interval time.Duration) *Supervisor {
	s := &Supervisor{
		ledger:   l,
		params:   params,
		journal:  journal,
		interval: interval,
		now:      time.Now,
	}
	s.lastDay = s.now().UTC().Truncate(24 * time.Hour)
	return s
}

// Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick performs one supervision pass: daily boundary reset, then the
// daily loss evaluation.
func (s *Supervisor) tick() {
	now := s.now().UTC()
	if day := now.Truncate(24 * time.Hour); day.After(s.lastDay) {
		s.lastDay = day
		s.ledger.ResetDaily()
		metrics.UpdateBreaker(string(ledger.DailyLoss), false)
		log.Info().Msg("trading day boundary: daily loss breaker reset")
	}

	snap := s.ledger.Snapshot()
	metrics.UpdatePortfolio(snap.TotalRiskExposure, snap.TotalValue)

	if snap.Breakers.DailyLossTriggered || snap.TotalValue <= 0 {
		return
	}

	p := s.params.Current()
	limit := -p.MaxDailyLossPct / 100 * snap.TotalValue
	if snap.RealizedPnLToday <= limit {
		s.ledger.SetBreaker(ledger.DailyLoss, true)
		metrics.UpdateBreaker(string(ledger.DailyLoss), true)
		log.Warn().Float64("realized_today", snap.RealizedPnLToday).
			Float64("limit", limit).
			Msg("daily loss limit breached, breaker tripped")
	}
}

// EmergencyStop trips the hard breaker. Every outstanding reservation is
// eagerly released by the ledger.
func (s *Supervisor) EmergencyStop(reason string) {
	s.ledger.SetBreaker(ledger.EmergencyStop, true)
	metrics.UpdateBreaker(string(ledger.EmergencyStop), true)
	log.Warn().Str("reason", reason).Msg("emergency stop engaged")
}

// EmergencyResume clears the hard breaker. Operator action only.
func (s *Supervisor) EmergencyResume() {
	s.ledger.SetBreaker(ledger.EmergencyStop, false)
	metrics.UpdateBreaker(string(ledger.EmergencyStop), false)
	log.Warn().Msg("emergency stop cleared")
}

// SetBlockedSymbols replaces the operator block list.
func (s *Supervisor) SetBlockedSymbols(symbols []string) {
	s.ledger.SetBlockedSymbols(symbols)
	log.Info().Strs("symbols", symbols).Msg("blocked symbol list updated")
}

// ReloadParams hot-swaps the risk parameters. A bad version is rejected
// and the active one stays in force.
func (s *Supervisor) ReloadParams(p risk.Params) error {
	if err := s.params.Swap(p); err != nil {
		log.Error().Err(err).Int("version", p.Version).Msg("parameter reload rejected")
		return err
	}
	s.ledger.SetBudget(p.MaxPortfolioRiskPct)
	if s.journal != nil {
		if err := s.journal.SaveParams(p); err != nil {
			log.Error().Err(err).Msg("persist reloaded parameters")
		}
	}
	log.Info().Int("version", p.Version).Msg("risk parameters reloaded")
	return nil
}
