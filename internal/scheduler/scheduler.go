// Package scheduler triggers the daily report for every user with a stored
// token.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dailybugs-backend/internal/logger"
	"dailybugs-backend/internal/pipeline"
	"dailybugs-backend/internal/steps"
)

// DefaultRetention is how long committed steps are kept when Config leaves
// Retention unset.
const DefaultRetention = 7 * 24 * time.Hour

// Store lists the users a scheduled run covers and drops old step logs.
type Store interface {
	ListUsers(ctx context.Context) ([]string, error)
	steps.Pruner
}

// Runner runs the workflow for one user.
type Runner interface {
	Run(ctx context.Context, p pipeline.Params) (pipeline.Result, error)
}

type Config struct {
	// Hour is the UTC hour the daily run starts.
	Hour int
	// Attempts bounds how often a failing run is tried for one user.
	Attempts   int
	RetryDelay time.Duration
	// Retention bounds the age of committed workflow steps.
	Retention time.Duration
}

type Scheduler struct {
	users  Store
	runner Runner
	cfg    Config
	log    *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(users Store, runner Runner, cfg Config, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Scheduler{
		users:  users,
		runner: runner,
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepCtx,
	}
}

// RunID names the daily run of userID on day, so retries on the same day
// resume one run instead of starting another.
func RunID(userID string, day time.Time) string {
	return fmt.Sprintf("daily-%s-%s", userID, day.UTC().Format("2006-01-02"))
}

// NextRun returns the first time at or after now that falls on hour (UTC).
func NextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if next.Before(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start blocks, running every user once a day, until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	for {
		next := NextRun(s.now(), s.cfg.Hour)
		s.log.Infof("next daily run at %s", next.Format(time.RFC3339))
		if err := s.sleep(ctx, next.Sub(s.now())); err != nil {
			return err
		}
		s.RunAll(ctx, next)
		// Step past the hour so NextRun moves to tomorrow.
		if err := s.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
}

// RunAll runs every user once for the day of at. One user's failure does
// not stop the others; it returns the number of failed users. Steps older
// than the retention window are pruned first.
func (s *Scheduler) RunAll(ctx context.Context, at time.Time) int {
	s.prune(ctx, at)
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.log.Error("failed to list users", err)
		return 0
	}
	failed := 0
	for _, id := range users {
		if ctx.Err() != nil {
			break
		}
		if err := s.runUser(ctx, id, at); err != nil {
			failed++
			s.log.With("user_id", id).Error("daily run failed", err)
		}
	}
	s.log.Infof("daily run finished: %d users, %d failed", len(users), failed)
	return failed
}

func (s *Scheduler) prune(ctx context.Context, at time.Time) {
	cutoff := at.Add(-s.cfg.Retention)
	pruned, err := s.users.PruneSteps(ctx, cutoff)
	if err != nil {
		s.log.Error("failed to prune workflow steps", err)
		return
	}
	if pruned > 0 {
		s.log.Infof("pruned %d workflow runs older than %s", pruned, cutoff.Format(time.RFC3339))
	}
}

func (s *Scheduler) runUser(ctx context.Context, userID string, at time.Time) error {
	params := pipeline.Params{RunID: RunID(userID, at), UserID: userID, Now: at}
	var err error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if _, err = s.runner.Run(ctx, params); err == nil || !retryable(err) {
			return err
		}
		if attempt < s.cfg.Attempts {
			s.log.With("user_id", userID).Warnf("attempt %d failed, retrying in %s: %v", attempt, s.cfg.RetryDelay, err)
			if serr := s.sleep(ctx, s.cfg.RetryDelay); serr != nil {
				return serr
			}
		}
	}
	return err
}

// retryable excludes failures that deleted the user's token.
func retryable(err error) bool {
	return !errors.Is(err, pipeline.ErrTokenRevoked) && !errors.Is(err, context.Canceled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
