package auth

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SweepScheduler ticks Rotator.Sweep on a cron schedule, replacing a
// per-profile recovery timer with a single periodic sweep so cooldown
// recovery does not pin one goroutine per profile for the life of the
// process.
type SweepScheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// NewSweepScheduler builds a scheduler that calls r.Sweep() on the given
// cron spec (e.g. "@every 10s"). Call Start to begin ticking and Stop to
// release it.
func NewSweepScheduler(r *Rotator, spec string, log *slog.Logger) (*SweepScheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		r.Sweep()
	})
	if err != nil {
		return nil, err
	}
	return &SweepScheduler{cron: c, log: log}, nil
}

func (s *SweepScheduler) Start() { s.cron.Start() }

// Stop blocks until the running sweep (if any) finishes, then stops
// further ticks.
func (s *SweepScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
