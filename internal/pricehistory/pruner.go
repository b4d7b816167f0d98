package pricehistory

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Pruner deletes history buckets past the retention window on a cron
// schedule (seconds-resolution spec, e.g. "0 0 4 * * *" for 04:00 daily).
type Pruner struct {
	service       *Service
	cron          *cron.Cron
	retentionDays int
}

func NewPruner(service *Service, retentionDays int) *Pruner {
	return &Pruner{
		service:       service,
		cron:          cron.New(cron.WithSeconds()),
		retentionDays: retentionDays,
	}
}

func (p *Pruner) Start(schedule string) error {
	logger := log.With().Str("component", "history_pruner").Logger()
	_, err := p.cron.AddFunc(schedule, func() {
		removed, err := p.service.Prune(p.retentionDays)
		if err != nil {
			logger.Error().Err(err).Msg("price history prune failed")
			return
		}
		logger.Info().Int64("removed", removed).Int("retention_days", p.retentionDays).Msg("pruned price history")
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	logger.Info().Str("schedule", schedule).Msg("history pruner started")
	return nil
}

func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}
