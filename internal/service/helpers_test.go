package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// The in-memory fakes below mimic the storage layer's scoping contract: every
// tenant-scoped method resolves the tenant from the context and only ever
// touches that tenant's rows, exactly like the row policies do.

func tenantCtx(id uuid.UUID) context.Context {
	return tenantctx.With(context.Background(), tenantctx.TenantContext{TenantID: id})
}

func adminCtx(id uuid.UUID) context.Context {
	return tenantctx.With(context.Background(), tenantctx.TenantContext{TenantID: id, IsAdmin: true})
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]*model.User{}}
}

func (f *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.users {
		if ex.Username == u.Username && ex.DeletionState != model.StateErased {
			return errs.ErrAlreadyExists
		}
	}
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username && u.DeletionState == model.StateActive {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUserRepo) SetRole(_ context.Context, id uuid.UUID, role model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.Role = role
	return nil
}

func (f *fakeUserRepo) Erase(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	if u.DeletionState == model.StateErased {
		return errs.ErrErased
	}
	u.DeletionState = model.StateErased
	u.PwdHash = nil
	u.SaltAuth = nil
	return nil
}

type fakeLimiter struct {
	blocked bool
	fails   int
}

func (f *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	return !f.blocked, 0, nil
}

func (f *fakeLimiter) Success(context.Context, string, []byte) error { return nil }

func (f *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	f.fails++
	return false, 0, nil
}

type entryKey struct {
	owner uuid.UUID
	kind  model.EntryKind
	id    uuid.UUID
}

type fakeEntryRepo struct {
	mu      sync.Mutex
	entries map[entryKey]*model.Entry
	getErrs []error // popped per Get call before normal lookup
	calls   int
}

func newFakeEntryRepo() *fakeEntryRepo {
	return &fakeEntryRepo{entries: map[entryKey]*model.Entry{}}
}

func (f *fakeEntryRepo) Create(ctx context.Context, kind model.EntryKind, payload []byte) (*model.Entry, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &model.Entry{
		ID:            uuid.Must(uuid.NewV4()),
		OwnerID:       tc.TenantID,
		Kind:          kind,
		Payload:       payload,
		DeletionState: model.StateActive,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	f.entries[entryKey{tc.TenantID, kind, e.ID}] = e
	return e, nil
}

func (f *fakeEntryRepo) Get(ctx context.Context, kind model.EntryKind, id uuid.UUID) (*model.Entry, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	e, ok := f.entries[entryKey{tc.TenantID, kind, id}]
	if !ok || e.DeletionState != model.StateActive {
		return nil, errs.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEntryRepo) List(ctx context.Context, kind model.EntryKind, _ model.EntryFilter) ([]model.Entry, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Entry
	for k, e := range f.entries {
		if k.owner == tc.TenantID && k.kind == kind && e.DeletionState == model.StateActive {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEntryRepo) Update(ctx context.Context, kind model.EntryKind, id uuid.UUID, patch model.EntryPatch) (*model.Entry, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryKey{tc.TenantID, kind, id}]
	if !ok || e.DeletionState != model.StateActive {
		return nil, errs.ErrNotFound
	}
	if patch.Payload != nil {
		e.Payload = patch.Payload
	}
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

func (f *fakeEntryRepo) Delete(ctx context.Context, kind model.EntryKind, id uuid.UUID) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryKey{tc.TenantID, kind, id}]
	if !ok || e.DeletionState != model.StateActive {
		return errs.ErrNotFound
	}
	e.DeletionState = model.StateSoftDeleted
	return nil
}

func (f *fakeEntryRepo) AdminListAll(ctx context.Context, kind model.EntryKind, _ model.EntryFilter) ([]model.Entry, error) {
	if _, err := tenantctx.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Entry
	for k, e := range f.entries {
		if k.kind == kind {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEntryRepo) EraseOwner(ctx context.Context) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.entries {
		if k.owner == tc.TenantID {
			delete(f.entries, k)
		}
	}
	return nil
}

type fakeAIContextRepo struct {
	mu       sync.Mutex
	contexts map[uuid.UUID]*model.AIContext
	gets     int
}

func newFakeAIContextRepo() *fakeAIContextRepo {
	return &fakeAIContextRepo{contexts: map[uuid.UUID]*model.AIContext{}}
}

func (f *fakeAIContextRepo) GetOrCreate(ctx context.Context, ttl time.Duration) (*model.AIContext, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	c, ok := f.contexts[tc.TenantID]
	if !ok {
		c = &model.AIContext{UserID: tc.TenantID, LastUpdated: time.Now(), ExpiresAt: time.Now().Add(ttl)}
		f.contexts[tc.TenantID] = c
	}
	c.AccessCount++
	cp := *c
	return &cp, nil
}

func (f *fakeAIContextRepo) Update(ctx context.Context, state model.EncryptedBlob, ttl time.Duration) (*model.AIContext, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contexts[tc.TenantID]
	if !ok {
		c = &model.AIContext{UserID: tc.TenantID}
		f.contexts[tc.TenantID] = c
	}
	c.EncryptedState = state
	c.LastUpdated = time.Now()
	c.ExpiresAt = time.Now().Add(ttl)
	cp := *c
	return &cp, nil
}

func (f *fakeAIContextRepo) Delete(ctx context.Context) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contexts, tc.TenantID)
	return nil
}

func (f *fakeAIContextRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, c := range f.contexts {
		if c.ExpiresAt.Before(now) {
			delete(f.contexts, id)
			n++
		}
	}
	return n, nil
}

type convKey struct {
	owner   uuid.UUID
	session uuid.UUID
}

type fakeConversationRepo struct {
	mu       sync.Mutex
	messages map[convKey][]model.ConversationMessage
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{messages: map[convKey][]model.ConversationMessage{}}
}

func (f *fakeConversationRepo) Append(ctx context.Context, sessionID uuid.UUID, role model.MessageRole, content model.EncryptedBlob) (*model.ConversationMessage, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := convKey{tc.TenantID, sessionID}
	m := model.ConversationMessage{
		ID:               uuid.Must(uuid.NewV4()),
		UserID:           tc.TenantID,
		SessionID:        sessionID,
		SequenceNumber:   int64(len(f.messages[k]) + 1),
		Role:             role,
		EncryptedContent: content,
		CreatedAt:        time.Now(),
	}
	f.messages[k] = append(f.messages[k], m)
	return &m, nil
}

func (f *fakeConversationRepo) GetSession(ctx context.Context, sessionID uuid.UUID) ([]model.ConversationMessage, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ConversationMessage(nil), f.messages[convKey{tc.TenantID, sessionID}]...), nil
}

func (f *fakeConversationRepo) Recent(ctx context.Context, limit int) ([]model.ConversationMessage, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ConversationMessage
	for k, msgs := range f.messages {
		if k.owner == tc.TenantID {
			out = append(out, msgs...)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeConversationRepo) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, convKey{tc.TenantID, sessionID})
	return nil
}

func (f *fakeConversationRepo) EraseOwner(ctx context.Context) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.messages {
		if k.owner == tc.TenantID {
			delete(f.messages, k)
		}
	}
	return nil
}

func (f *fakeConversationRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, msgs := range f.messages {
		var kept []model.ConversationMessage
		for _, m := range msgs {
			if m.CreatedAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, m)
		}
		f.messages[k] = kept
	}
	return n, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (f *fakeAuditRepo) Append(_ context.Context, e model.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditRepo) snapshot() []model.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditEntry(nil), f.entries...)
}

func (f *fakeAuditRepo) Query(ctx context.Context, _ model.AuditFilter) ([]model.AuditEntry, error) {
	if _, err := tenantctx.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditEntry(nil), f.entries...), nil
}

func (f *fakeAuditRepo) Suspicious(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	return f.Query(ctx, model.AuditFilter{OnlySuspicious: true, Limit: limit})
}

// FlagBursts mirrors the ranked flagging of the postgres repo: per actor
// inside the window, entries past the threshold get the suspicious flag.
func (f *fakeAuditRepo) FlagBursts(_ context.Context, window time.Duration, threshold int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-window)
	seen := map[uuid.UUID]int{}
	var flagged int64
	for i := range f.entries {
		e := &f.entries[i]
		if e.ActorUserID == nil || e.CreatedAt.Before(cutoff) {
			continue
		}
		seen[*e.ActorUserID]++
		if seen[*e.ActorUserID] > threshold && !e.FlaggedSuspicious {
			e.FlaggedSuspicious = true
			flagged++
		}
	}
	return flagged, nil
}

func (f *fakeAuditRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}
