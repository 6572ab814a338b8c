package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/audit"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/repository"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// EntryService defines tenant-scoped operations over journal entries.
type EntryService interface {
	// Create validates the payload for its kind and stores a new entry.
	Create(ctx context.Context, kind model.EntryKind, payload []byte) (*model.Entry, error)
	// Get loads one entry; the read is audited best-effort.
	Get(ctx context.Context, kind model.EntryKind, id uuid.UUID) (*model.Entry, error)
	// List returns entries matching the filter.
	List(ctx context.Context, kind model.EntryKind, f model.EntryFilter) ([]model.Entry, error)
	// Update patches an entry.
	Update(ctx context.Context, kind model.EntryKind, id uuid.UUID, patch model.EntryPatch) (*model.Entry, error)
	// Delete soft-deletes an entry.
	Delete(ctx context.Context, kind model.EntryKind, id uuid.UUID) error
	// AdminListAll lists entries across all owners (admin context required).
	AdminListAll(ctx context.Context, kind model.EntryKind, f model.EntryFilter) ([]model.Entry, error)
}

// moodPayload is the one kind with structured, unencrypted fields.
type moodPayload struct {
	Score int    `json:"score"`
	Note  string `json:"note"`
}

type EntryServiceImpl struct {
	repo    repository.EntryRepository
	reads   *audit.ReadLogger
	maxList int
}

// NewEntryService constructs EntryService.
func NewEntryService(repo repository.EntryRepository, reads *audit.ReadLogger, maxList int) *EntryServiceImpl {
	if maxList <= 0 {
		maxList = 500
	}
	return &EntryServiceImpl{repo: repo, reads: reads, maxList: maxList}
}

// Create validates the payload for its kind and stores a new entry owned by
// the active tenant. Any owner field inside the payload is irrelevant: the
// repository takes ownership from the context alone.
func (s *EntryServiceImpl) Create(ctx context.Context, kind model.EntryKind, payload []byte) (*model.Entry, error) {
	if err := validatePayload(kind, payload); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, kind, payload)
}

// Get loads one entry with transient-error retry and logs the read.
func (s *EntryServiceImpl) Get(ctx context.Context, kind model.EntryKind, id uuid.UUID) (*model.Entry, error) {
	if id == uuid.Nil {
		return nil, errs.Validation("id", "empty")
	}
	var e *model.Entry
	err := retryRead(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.repo.Get(ctx, kind, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logRead(ctx, string(kind), id.String())
	return e, nil
}

// List returns the tenant's entries with transient-error retry.
func (s *EntryServiceImpl) List(ctx context.Context, kind model.EntryKind, f model.EntryFilter) ([]model.Entry, error) {
	if f.Limit <= 0 || f.Limit > s.maxList {
		f.Limit = s.maxList
	}
	var out []model.Entry
	err := retryRead(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repo.List(ctx, kind, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logRead(ctx, string(kind), "")
	return out, nil
}

// Update patches one entry. Mutations are never blindly retried: the audit
// entry and the mutation commit as one unit, so a failed attempt either
// wrote both or neither, and the caller decides what to do.
func (s *EntryServiceImpl) Update(ctx context.Context, kind model.EntryKind, id uuid.UUID, patch model.EntryPatch) (*model.Entry, error) {
	if id == uuid.Nil {
		return nil, errs.Validation("id", "empty")
	}
	if patch.Payload != nil {
		if err := validatePayload(kind, patch.Payload); err != nil {
			return nil, err
		}
	}
	return s.repo.Update(ctx, kind, id, patch)
}

// Delete soft-deletes one entry.
func (s *EntryServiceImpl) Delete(ctx context.Context, kind model.EntryKind, id uuid.UUID) error {
	if id == uuid.Nil {
		return errs.Validation("id", "empty")
	}
	return s.repo.Delete(ctx, kind, id)
}

// AdminListAll lists entries across all owners. The repository requires an
// admin context and audits the bypass; nothing to add here.
func (s *EntryServiceImpl) AdminListAll(ctx context.Context, kind model.EntryKind, f model.EntryFilter) ([]model.Entry, error) {
	if f.Limit <= 0 || f.Limit > s.maxList {
		f.Limit = s.maxList
	}
	return s.repo.AdminListAll(ctx, kind, f)
}

func (s *EntryServiceImpl) logRead(ctx context.Context, table, recordID string) {
	if s.reads == nil {
		return
	}
	tc, ok := tenantctx.From(ctx)
	if !ok {
		return
	}
	actor := tc.TenantID
	s.reads.Log(model.AuditEntry{
		ActorUserID: &actor,
		TableName:   table,
		Operation:   model.OpRead,
		RecordID:    recordID,
		AdminAction: false,
		ClientIP:    tenantctx.ClientIP(ctx),
	})
}

func validatePayload(kind model.EntryKind, payload []byte) error {
	if len(payload) == 0 {
		return errs.Validation("payload", "empty")
	}
	if !json.Valid(payload) {
		return errs.Validation("payload", "not valid JSON")
	}
	if kind == model.KindMood {
		var m moodPayload
		if err := json.Unmarshal(payload, &m); err != nil {
			return errs.Validation("payload", "bad mood document")
		}
		if m.Score < 1 || m.Score > 10 {
			return errs.Validation("score", "must be between 1 and 10")
		}
	}
	return nil
}

// retryRead retries idempotent reads on transient storage errors with
// fibonacci backoff. Sentinel and validation errors return immediately.
func retryRead(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.NewFibonacci(50*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient reports whether a storage error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrNoTenant) ||
		errors.Is(err, errs.ErrPermission) || errors.Is(err, errs.ErrAdminRequired) {
		return false
	}
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		return false
	}
	if errs.IsEnforcementViolation(err) {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exceptions
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return false
}
