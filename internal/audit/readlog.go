// Package audit contains the parts of the audit trail that live outside
// mutation transactions: best-effort read logging and the suspicious
// activity detector. Mutation audit is written by the storage layer inside
// the mutating transaction itself.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/metrics"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/repository"
)

// ReadLogger records non-mutating audit events (reads of sensitive tables,
// login attempts) asynchronously. Logging never blocks or fails the request:
// the queue is bounded and overflow drops the entry (counted, not retried).
type ReadLogger struct {
	repo  repository.AuditRepository
	log   *zap.Logger
	queue chan model.AuditEntry
	done  chan struct{}
}

// NewReadLogger constructs a read logger with the given queue depth.
func NewReadLogger(repo repository.AuditRepository, log *zap.Logger, depth int) *ReadLogger {
	if depth <= 0 {
		depth = 1024
	}
	return &ReadLogger{
		repo:  repo,
		log:   log,
		queue: make(chan model.AuditEntry, depth),
		done:  make(chan struct{}),
	}
}

// Start drains the queue until ctx is cancelled.
func (l *ReadLogger) Start(ctx context.Context) {
	go func() {
		defer close(l.done)
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-l.queue:
				if err := l.repo.Append(context.WithoutCancel(ctx), e); err != nil {
					l.log.Warn("audit read append failed", zap.Error(err))
				} else {
					metrics.AuditWrites.WithLabelValues("read").Inc()
				}
			}
		}
	}()
}

// Wait blocks until the drain goroutine has exited.
func (l *ReadLogger) Wait() { <-l.done }

// Log enqueues a read entry, dropping on overflow.
func (l *ReadLogger) Log(e model.AuditEntry) {
	select {
	case l.queue <- e:
	default:
		metrics.AuditReadDrops.Inc()
	}
}
