// Package maintenance runs periodic store upkeep: planner statistics refresh
// and write-ahead log checkpointing.
package maintenance

import (
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"entstore/internal/store"
)

// DefaultSchedule runs maintenance daily at 04:00.
const DefaultSchedule = "0 4 * * *"

// Scheduler runs store maintenance on a cron schedule.
type Scheduler struct {
	mgr      *store.Manager
	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// New creates a scheduler; an empty schedule selects DefaultSchedule.
func New(mgr *store.Manager, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		mgr:      mgr,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start begins the schedule.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.runMaintenance); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	log.Info().Str("schedule", s.schedule).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	log.Info().Msg("Maintenance scheduler stopped")
}

func (s *Scheduler) runMaintenance() {
	log.Debug().Msg("Running store maintenance")
	if err := s.mgr.Optimize(); err != nil {
		log.Error().Err(err).Msg("Store optimize failed")
	}
	if err := s.mgr.Checkpoint(); err != nil {
		log.Error().Err(err).Msg("Store checkpoint failed")
	}
}
