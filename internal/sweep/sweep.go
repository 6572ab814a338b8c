// Package sweep runs periodic retention and detection jobs.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/audit"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/metrics"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/repository"
)

// Runner drives the retention sweeps and the suspicious-activity detector on
// a single ticker. Each job runs independently; one failing does not stop the
// others. Retention of the audit trail itself is the one deletion exempt from
// producing audit entries.
type Runner struct {
	audits        repository.AuditRepository
	conversations repository.ConversationRepository
	aiContexts    repository.AIContextRepository
	detector      *audit.Detector
	log           *zap.Logger

	Interval           time.Duration
	AuditWindow        time.Duration
	ConversationWindow time.Duration
}

// NewRunner constructs the sweep runner.
func NewRunner(
	audits repository.AuditRepository,
	conversations repository.ConversationRepository,
	aiContexts repository.AIContextRepository,
	detector *audit.Detector,
	interval, auditWindow, conversationWindow time.Duration,
	log *zap.Logger,
) *Runner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Runner{
		audits:             audits,
		conversations:      conversations,
		aiContexts:         aiContexts,
		detector:           detector,
		log:                log,
		Interval:           interval,
		AuditWindow:        auditWindow,
		ConversationWindow: conversationWindow,
	}
}

// Run blocks until ctx is canceled, executing all jobs once per interval.
func (r *Runner) Run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes every job a single time.
func (r *Runner) RunOnce(ctx context.Context) {
	now := time.Now()

	if r.AuditWindow > 0 {
		r.job(ctx, "audit_retention", func(ctx context.Context) (int64, error) {
			return r.audits.DeleteOlderThan(ctx, now.Add(-r.AuditWindow))
		})
	}
	if r.ConversationWindow > 0 {
		r.job(ctx, "conversation_retention", func(ctx context.Context) (int64, error) {
			return r.conversations.DeleteOlderThan(ctx, now.Add(-r.ConversationWindow))
		})
	}
	r.job(ctx, "ai_context_expiry", func(ctx context.Context) (int64, error) {
		return r.aiContexts.DeleteExpired(ctx, now)
	})

	if r.detector != nil {
		if _, err := r.detector.RunOnce(ctx); err != nil {
			r.log.Error("detector run failed", zap.Error(err))
		}
	}
}

func (r *Runner) job(ctx context.Context, name string, fn func(ctx context.Context) (int64, error)) {
	n, err := fn(ctx)
	if err != nil {
		r.log.Error("sweep job failed", zap.String("job", name), zap.Error(err))
		return
	}
	if n > 0 {
		metrics.SweepDeletes.WithLabelValues(name).Add(float64(n))
		r.log.Info("sweep job done", zap.String("job", name), zap.Int64("deleted", n))
	}
}
