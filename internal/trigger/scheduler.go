package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/mbhatt1/hive-sub000/internal/config"
	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/types"
)

// ParamAccount is the intake parameter naming the audited AWS account.
const ParamAccount = "account_id"

// MissionRunner runs one mission to completion.
type MissionRunner interface {
	Run(ctx context.Context, in mission.Input) (*mission.Mission, error)
}

// AuditInput builds the intake input for a scheduled audit of account. The
// mission id is derived from the account and the firing time, so a schedule
// firing twice within the same second is only run once.
func AuditInput(account string, params map[string]any, at time.Time) mission.Input {
	p := make(map[string]any, len(params)+1)
	for k, v := range params {
		p[k] = v
	}
	p[ParamAccount] = account
	return mission.Input{
		MissionID: types.ID(fmt.Sprintf("audit-%s-%s", account, at.UTC().Format("20060102T150405"))),
		ScanType:  mission.ScanTypeAWS,
		Params:    p,
	}
}

// Scheduler fires AWS audit missions on cron schedules. At most parallel
// missions run at once; firings beyond that wait for a slot.
type Scheduler struct {
	runner MissionRunner
	cron   *cron.Cron
	sem    *semaphore.Weighted
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. Cron expressions accept an optional
// leading seconds field.
func NewScheduler(runner MissionRunner, parallel int, logger *slog.Logger) *Scheduler {
	if parallel < 1 {
		parallel = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		runner: runner,
		cron:   cron.New(cron.WithParser(parser)),
		sem:    semaphore.NewWeighted(int64(parallel)),
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers one schedule.
func (s *Scheduler) Add(sc config.ScheduleConfig) error {
	_, err := s.cron.AddFunc(sc.Cron, func() {
		s.Fire(sc)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for account %s: %w", sc.Cron, sc.Account, err)
	}
	s.logger.Info("audit scheduled", "cron", sc.Cron, "account", sc.Account)
	return nil
}

// AddAll registers every schedule, reporting all invalid ones.
func (s *Scheduler) AddAll(schedules []config.ScheduleConfig) error {
	var errs []error
	for _, sc := range schedules {
		if err := s.Add(sc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("audit scheduler started", "schedules", len(s.cron.Entries()))
}

// Stop stops firing, cancels waiting firings and waits for running missions
// until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit scheduler did not stop: %w", ctx.Err())
	}
}

// Fire runs the audit for sc now. It blocks until the mission finishes or the
// scheduler stops.
func (s *Scheduler) Fire(sc config.ScheduleConfig) {
	s.wg.Add(1)
	defer s.wg.Done()

	in := AuditInput(sc.Account, sc.Params, s.now())
	logger := s.logger.With("mission_id", in.MissionID, "account", sc.Account)

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		logger.Warn("scheduled audit skipped", "error", err)
		return
	}
	defer s.sem.Release(1)

	logger.Info("scheduled audit starting")
	m, err := s.runner.Run(s.ctx, in)
	if err != nil {
		logger.Error("scheduled audit failed to run", "error", err)
		return
	}
	logger.Info("scheduled audit finished", "status", m.Status, "findings_count", m.FindingsCount)
}
