package core

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// janitor runs scheduled retention work: capping state history and
// sweeping stale cache ciphertext. It keeps storage growth bounded
// without touching the hot paths.
type janitor struct {
	core *Core
	cron *cron.Cron
}

func newJanitor(c *Core) *janitor {
	return &janitor{core: c, cron: cron.New()}
}

func (j *janitor) start(schedule string) error {
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return fmt.Errorf("scheduling janitor: %w", err)
	}
	j.cron.Start()
	log.Info().Str("schedule", schedule).Msg("retention janitor started")
	return nil
}

func (j *janitor) stop() {
	ctx := j.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("janitor stop timed out")
	}
}

func (j *janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pruned, err := j.core.Backend.PruneStateHistory(ctx, j.core.Config.HistoryKeep)
	if err != nil {
		log.Warn().Err(err).Msg("state history prune failed")
	} else if pruned > 0 {
		log.Info().Int64("rows", pruned).Msg("pruned state history")
	}

	if swept := j.core.Cache.Sweep(); swept > 0 {
		log.Info().Int("entries", swept).Msg("swept stale cache entries")
	}
}
