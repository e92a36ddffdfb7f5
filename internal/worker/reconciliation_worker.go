package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/ayo6706/marketplace-ledger/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultReconciliationSchedule = "@every 24h"

// Reconciler checks the credit ledger and returns any mismatches found.
type Reconciler interface {
	Run(ctx context.Context) ([]service.CreditMismatch, error)
}

// ReconciliationWorker runs the credit reconciliation on a cron schedule,
// along with any housekeeping jobs registered through WithJob.
type ReconciliationWorker struct {
	svc      Reconciler
	schedule string
	jobs     []cronJob
	cron     *cron.Cron
	stopOnce sync.Once
}

type cronJob struct {
	name string
	spec string
	fn   func(context.Context) error
}

func NewReconciliationWorker(svc Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		schedule: DefaultReconciliationSchedule,
		cron:     cron.New(cron.WithChain(cron.Recover(zapCronLogger{}))),
	}
}

// WithSchedule sets a standard cron spec or an @every descriptor.
func (w *ReconciliationWorker) WithSchedule(spec string) *ReconciliationWorker {
	if spec != "" {
		w.schedule = spec
	}
	return w
}

// WithJob schedules fn under name on the same cron.
func (w *ReconciliationWorker) WithJob(name, spec string, fn func(context.Context) error) *ReconciliationWorker {
	w.jobs = append(w.jobs, cronJob{name: name, spec: spec, fn: fn})
	return w
}

// Start registers the jobs, runs the reconciliation once and starts the
// scheduler. It does not block.
func (w *ReconciliationWorker) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.schedule, func() { w.runOnce(ctx) }); err != nil {
		return err
	}
	for _, job := range w.jobs {
		if _, err := w.cron.AddFunc(job.spec, func() { runJob(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	zap.L().Info("reconciliation worker starting", zap.String("schedule", w.schedule), zap.Int("extra_jobs", len(w.jobs)))

	go w.runOnce(ctx)
	w.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		<-w.cron.Stop().Done()
		zap.L().Info("reconciliation worker stopped")
	})
}

// Run starts the worker and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) (func(), error) {
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w.Stop, nil
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	mismatches, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return
	}
	result := "success"
	if len(mismatches) > 0 {
		result = "mismatch"
	}
	observability.IncrementWorkerRun("reconciliation", result)
}

func runJob(ctx context.Context, job cronJob) {
	if ctx.Err() != nil {
		return
	}
	if err := job.fn(ctx); err != nil {
		observability.IncrementWorkerRun(job.name, "failed")
		zap.L().Error("scheduled job failed", zap.String("job", job.name), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(job.name, "success")
}

// zapCronLogger adapts the global zap logger to cron.Logger.
type zapCronLogger struct{}

func (zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.S().Infow(msg, keysAndValues...)
}

func (zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	zap.S().Errorw(msg, append(keysAndValues, "error", err)...)
}
