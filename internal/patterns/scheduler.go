package patterns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler runs Cleanup on a cron schedule.
type Scheduler struct {
	c *cron.Cron
}

// StartCleanup schedules threshold-gated cleanup passes. spec is a 5-field
// cron expression or a descriptor such as "@every 1h". An empty spec
// disables scheduling and returns a nil Scheduler.
func StartCleanup(store *Store, spec string) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		log.Info().Msg("pattern cleanup schedule disabled")
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		rep, err := store.Cleanup(ctx, false)
		if err != nil {
			log.Error().Err(err).Msg("scheduled pattern cleanup failed")
			return
		}
		if !rep.Triggered {
			log.Debug().Int("active", rep.ActiveSeen).Msg("pattern cleanup below threshold")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	c.Start()
	log.Info().Str("schedule", spec).Msg("pattern cleanup scheduled")
	return &Scheduler{c: c}, nil
}

// Stop waits for a running pass to finish.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	<-s.c.Stop().Done()
}
