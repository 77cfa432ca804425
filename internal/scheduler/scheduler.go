// Package scheduler drives periodic jobs: the threat alert dispatcher and the
// rate limit window prune.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/services"
)

// Dispatcher is the threat alert pass run on every tick.
type Dispatcher interface {
	DispatchAll(ctx context.Context) (services.RunSummary, error)
}

// Pruner drops rate limit windows that started before cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type Scheduler struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	timeout    time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	now        func() time.Time
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

// New registers the dispatcher under spec (standard cron syntax or
// descriptors such as "@every 5m"). A slow run is skipped rather than
// overlapped by the next tick.
func New(spec string, dispatcher Dispatcher, timeout time.Duration) (*Scheduler, error) {
	log := cronLogger{entry: logger.Log().WithField("component", "scheduler")}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, dispatcher: dispatcher, timeout: timeout, ctx: ctx, cancel: cancel, now: time.Now}
	if _, err := c.AddFunc(spec, s.runThreatAlerts); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule threat alerts %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) runThreatAlerts() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	summary, err := s.dispatcher.DispatchAll(ctx)
	if err != nil {
		logger.Log().WithError(err).Error("threat alert run failed")
		return
	}
	logger.Log().WithFields(logrus.Fields{
		"processed": summary.Processed,
		"sent":      summary.Sent,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Debug("scheduled threat alert run")
}

// AddPrune schedules p under spec. Windows older than retain are deleted;
// retain must cover the longest limiter window in use.
func (s *Scheduler) AddPrune(spec string, p Pruner, retain time.Duration) error {
	if _, err := s.cron.AddFunc(spec, func() { s.runPrune(p, retain) }); err != nil {
		return fmt.Errorf("schedule rate limit prune %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) runPrune(p Pruner, retain time.Duration) {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()
	n, err := p.Prune(ctx, s.now().Add(-retain))
	if err != nil {
		logger.Log().WithError(err).Warn("rate limit prune failed")
		return
	}
	logger.Log().WithField("deleted", n).Debug("pruned rate limit windows")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels any running job and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
