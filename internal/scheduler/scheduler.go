package scheduler

import (
	"context"
	"fmt"

	"github.com/Dan9191/finance-ledger/internal/ledger"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Alerter is notified about reconciliation runs that were not clean
type Alerter interface {
	SendReconcileAlert(report ledger.Report) error
}

// Scheduler runs the periodic balance reconciliation
type Scheduler struct {
	cron    *cron.Cron
	engine  *ledger.Engine
	store   repository.Store
	alerter Alerter
	log     *logrus.Logger
}

// cronLogger routes cron's own messages through logrus
type cronLogger struct {
	log *logrus.Logger
}

func (l cronLogger) fields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{"component": "cron"}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(l.fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(l.fields(keysAndValues)).WithError(err).Error(msg)
}

// jobWrappers recover panicking jobs and skip a tick while the previous run is still going
func jobWrappers(logger cron.Logger) []cron.JobWrapper {
	return []cron.JobWrapper{cron.Recover(logger), cron.SkipIfStillRunning(logger)}
}

// New registers the reconcile job on the cron spec. alerter may be nil.
func New(spec string, engine *ledger.Engine, store repository.Store, alerter Alerter, log *logrus.Logger) (*Scheduler, error) {
	logger := cronLogger{log: log}
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(logger), cron.WithChain(jobWrappers(logger)...)),
		engine:  engine,
		store:   store,
		alerter: alerter,
		log:     log,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start launches the cron loop in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Reconcile scheduler started")
}

// Stop halts the cron loop and waits for a running job to finish or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("Reconcile job still running at shutdown")
	}
}

func (s *Scheduler) tick() {
	if _, err := s.Run(context.Background()); err != nil {
		s.log.WithError(err).Error("Reconcile job failed")
	}
}

// Run reconciles every account once and mails an alert when balances had
// drifted or accounts failed
func (s *Scheduler) Run(ctx context.Context) (ledger.Report, error) {
	report, err := s.engine.RepairAll(ctx, s.store)
	if err != nil {
		return report, err
	}
	if report.Clean() || s.alerter == nil {
		return report, nil
	}
	if err := s.alerter.SendReconcileAlert(report); err != nil {
		return report, err
	}
	return report, nil
}
