// Package jobs schedules the periodic maintenance work: email-OTP cleanup,
// session expiry, go-live transitions, and audit retention. Jobs run through
// the same control service the HTTP handlers use, so every run leaves the
// same audit trail an equivalent API call would.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/service/control"
)

// runTimeout bounds a single run. Generous for the expected row counts; a
// run that hits it is stuck on the database, not busy.
const runTimeout = 5 * time.Minute

// Scheduler owns the cron loop. Construct with New, Start it alongside the
// HTTP server, and Stop it during shutdown.
type Scheduler struct {
	cron    *cron.Cron
	control *control.Service
}

func New(ctl *control.Service) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		control: ctl,
	}

	entries := []struct {
		name     string
		schedule string
		run      func(context.Context) (int64, error)
	}{
		{"otp_cleanup", "@hourly", ctl.CleanupExpiredOTPs},
		{"session_gc", "@hourly", ctl.ExpireSessions},
		{"golive_scan", "@daily", func(ctx context.Context) (int64, error) {
			n, err := ctl.RunGoLiveTransitions(ctx)
			return int64(n), err
		}},
		{"audit_retention", "@daily", ctl.PruneAuditLog},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.schedule, s.wrap(e.name, e.run)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// wrap runs one job under a fresh bounded context carrying a job-tagged
// logger, and reduces the outcome to a single log line. Idle runs log at
// debug so hourly no-ops do not drown the request log.
func (s *Scheduler) wrap(name string, run func(context.Context) (int64, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		logger := log.With().Str("job", name).Logger()
		ctx = logger.WithContext(ctx)

		start := time.Now()
		n, err := run(ctx)
		switch {
		case err != nil:
			logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
		case n > 0:
			logger.Info().Int64("rows", n).Dur("duration", time.Since(start)).Msg("job finished")
		default:
			logger.Debug().Dur("duration", time.Since(start)).Msg("job idle")
		}
	}
}

// Start launches the schedule; each due job runs on the cron goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents further runs and returns a context that is done once any
// in-flight run has returned.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// Entries exposes the registered schedule, primarily for inspection.
func (s *Scheduler) Entries() []cron.Entry { return s.cron.Entries() }
