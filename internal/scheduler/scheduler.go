// Package scheduler drives the periodic usage sweep.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"roombroker/internal/services"
	"roombroker/pkg/logger"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron       *cron.Cron
	reconciler *services.ReconcilerService
	interval   time.Duration
	log        *logger.Logger
}

func New(reconciler *services.ReconcilerService, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		reconciler: reconciler,
		interval:   interval,
		log:        log,
	}
}

// Start registers the sweep job and launches the cron loop. The first
// sweep runs immediately so a restart does not leave the fleet blind for
// a whole interval.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.reconciler.SweepAll(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	go s.reconciler.SweepAll(context.Background())
	s.log.Infof("usage sweep scheduled every %s", s.interval)
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
