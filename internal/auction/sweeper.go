package auction

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper settles expired listings on a timer. Each row is claimed and
// settled in isolation: one row failing transiently leaves it ACTIVE for
// the next pass and never aborts the batch.
type Sweeper struct {
	service  *Service
	interval time.Duration
}

func NewSweeper(service *Service, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  service,
		interval: interval,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "expiration_sweeper").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting expiration sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down expiration sweeper")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep settles everything currently past its expiry. Exported so tests
// and admin tooling can trigger a pass directly.
func (s *Sweeper) Sweep() {
	logger := log.With().Str("component", "expiration_sweeper").Logger()

	expired, err := s.service.db.ExpiredListings(time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("failed to query expired listings")
		return
	}
	if len(expired) == 0 {
		return
	}

	logger.Info().Int("expired_count", len(expired)).Msg("processing expired listings")
	for _, listing := range expired {
		if err := s.service.SettleExpired(listing.ListingID); err != nil {
			logger.Error().
				Err(err).
				Str("listing_id", listing.ListingID).
				Msg("failed to settle expired listing, will retry next sweep")
		}
	}
}
