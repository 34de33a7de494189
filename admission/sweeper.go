package admission

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/metrics"
)

// Sweeper auto-releases reservations that were never confirmed within
// their TTL, so a lost execution or failed publish can never strand
// capital.
type Sweeper struct {
	ledger   *ledger.Ledger
	interval time.Duration
}

// NewSweeper ticks at the given interval.
func NewSweeper(l *ledger.Ledger, interval time.Duration) *Sweeper {
	return &Sweeper{ledger: l, interval: interval}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ledger.ReleaseExpired(time.Now()); n > 0 {
				for i := 0; i < n; i++ {
					metrics.RecordRelease("expired")
				}
				log.Info().Int("count", n).Msg("released expired reservations")
			}
		}
	}
}
