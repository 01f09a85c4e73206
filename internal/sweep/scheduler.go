package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the sweep daily at 06:00.
const DefaultSchedule = "0 6 * * *"

// Scheduler triggers the orchestrator on a cron schedule. A trigger that
// fires while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	orch    *Orchestrator
	timeout time.Duration
	log     zerolog.Logger
}

// NewScheduler registers the sweep under spec. Each run gets timeout as its
// deadline; zero means no deadline.
func NewScheduler(orch *Orchestrator, spec string, timeout time.Duration, log zerolog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	clog := cron.PrintfLogger(&log)
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(clog), cron.WithChain(cron.SkipIfStillRunning(clog))),
		orch:    orch,
		timeout: timeout,
		log:     log,
	}
	if _, err := s.cron.AddFunc(spec, s.trigger); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) trigger() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	sum, err := s.orch.Run(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		s.log.Warn().Msg("scheduled sweep skipped: another run holds the lock")
	case err != nil:
		s.log.Error().Err(err).Msg("scheduled sweep failed")
	case sum.Failed():
		s.log.Warn().Str("run_id", sum.RunID).Msg("scheduled sweep finished with errors")
	}
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.Info().Time("next_run", e.Next).Msg("sweep scheduled")
	}
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
