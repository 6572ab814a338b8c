package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

type captureRepo struct {
	mu       sync.Mutex
	entries  []model.AuditEntry
	attempts int
	flags    []flagCall
	flagN    int64
	err      error
}

type flagCall struct {
	window    time.Duration
	threshold int
}

func (r *captureRepo) Append(_ context.Context, e model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *captureRepo) appended() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *captureRepo) Query(context.Context, model.AuditFilter) ([]model.AuditEntry, error) {
	return nil, nil
}

func (r *captureRepo) Suspicious(context.Context, int) ([]model.AuditEntry, error) {
	return nil, nil
}

func (r *captureRepo) FlagBursts(_ context.Context, window time.Duration, threshold int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.flags = append(r.flags, flagCall{window, threshold})
	return r.flagN, nil
}

func (r *captureRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

func TestReadLogger_DrainsQueue(t *testing.T) {
	repo := &captureRepo{}
	l := NewReadLogger(repo, zap.NewNop(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	actor := uuid.Must(uuid.NewV4())
	l.Log(model.AuditEntry{ActorUserID: &actor, TableName: "mood_entries", Operation: model.OpRead})

	require.Eventually(t, func() bool { return repo.appended() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "mood_entries", repo.entries[0].TableName)
}

func TestReadLogger_OverflowDropsWithoutBlocking(t *testing.T) {
	repo := &captureRepo{}
	// depth 1, never started: the second Log must return immediately
	l := NewReadLogger(repo, zap.NewNop(), 1)

	done := make(chan struct{})
	go func() {
		l.Log(model.AuditEntry{TableName: "mood_entries", Operation: model.OpRead})
		l.Log(model.AuditEntry{TableName: "mood_entries", Operation: model.OpRead})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a full queue")
	}
	require.Zero(t, repo.appended())
}

func TestReadLogger_AppendFailureDoesNotStopDrain(t *testing.T) {
	repo := &captureRepo{err: errors.New("db down")}
	l := NewReadLogger(repo, zap.NewNop(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	l.Log(model.AuditEntry{TableName: "mood_entries", Operation: model.OpRead})
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.attempts == 1
	}, time.Second, 5*time.Millisecond)

	repo.mu.Lock()
	repo.err = nil
	repo.mu.Unlock()
	l.Log(model.AuditEntry{TableName: "dream_entries", Operation: model.OpRead})

	require.Eventually(t, func() bool { return repo.appended() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "dream_entries", repo.entries[0].TableName)
}

func TestReadLogger_WaitReturnsAfterCancel(t *testing.T) {
	l := NewReadLogger(&captureRepo{}, zap.NewNop(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestDetector_RunOnceAppliesBothThresholds(t *testing.T) {
	repo := &captureRepo{flagN: 2}
	d := NewDetector(repo, zap.NewNop())

	total, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), total)

	require.Len(t, repo.flags, 2)
	require.Equal(t, flagCall{DefaultRateWindow, DefaultRateThreshold}, repo.flags[0])
	require.Equal(t, flagCall{DefaultBurstWindow, DefaultBurstThreshold}, repo.flags[1])
}

func TestDetector_SurfacesRepositoryError(t *testing.T) {
	repo := &captureRepo{err: errors.New("db down")}
	d := NewDetector(repo, zap.NewNop())

	_, err := d.RunOnce(context.Background())
	require.Error(t, err)
}
