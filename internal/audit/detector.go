package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/metrics"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/repository"
)

// Default thresholds: a single actor above either rate is flagged.
const (
	DefaultRateWindow     = time.Minute
	DefaultRateThreshold  = 100
	DefaultBurstWindow    = 5 * time.Minute
	DefaultBurstThreshold = 1000
)

// Detector periodically flags audit entries of actors exceeding operation
// rate thresholds. It marks, never blocks: throttling is the rate limiter's
// concern, not the audit trail's.
type Detector struct {
	repo repository.AuditRepository
	log  *zap.Logger

	RateWindow     time.Duration
	RateThreshold  int
	BurstWindow    time.Duration
	BurstThreshold int
}

// NewDetector constructs a detector with default thresholds.
func NewDetector(repo repository.AuditRepository, log *zap.Logger) *Detector {
	return &Detector{
		repo:           repo,
		log:            log,
		RateWindow:     DefaultRateWindow,
		RateThreshold:  DefaultRateThreshold,
		BurstWindow:    DefaultBurstWindow,
		BurstThreshold: DefaultBurstThreshold,
	}
}

// RunOnce applies both thresholds and reports how many entries were flagged.
func (d *Detector) RunOnce(ctx context.Context) (int64, error) {
	var total int64
	for _, w := range []struct {
		window    time.Duration
		threshold int
	}{
		{d.RateWindow, d.RateThreshold},
		{d.BurstWindow, d.BurstThreshold},
	} {
		n, err := d.repo.FlagBursts(ctx, w.window, w.threshold)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		metrics.SuspiciousFlags.Add(float64(total))
		d.log.Warn("suspicious activity flagged", zap.Int64("entries", total))
	}
	return total, nil
}
