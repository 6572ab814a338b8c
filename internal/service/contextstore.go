package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/audit"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/cache"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/metrics"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/repository"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// ContextStore manages per-user AI state and conversation history. The
// tenant id is always taken from the active context; methods accepting an
// explicit id verify it against the context and reject mismatches.
type ContextStore interface {
	// GetContext loads (creating if absent) the tenant's AI context.
	GetContext(ctx context.Context) (*model.AIContext, error)
	// UpdateContext replaces the encrypted state.
	UpdateContext(ctx context.Context, state model.EncryptedBlob) (*model.AIContext, error)
	// DeleteContext removes the tenant's AI context (GDPR erasure path).
	DeleteContext(ctx context.Context) error
	// GetConversation returns the tenant's messages of one session in order.
	GetConversation(ctx context.Context, sessionID uuid.UUID) ([]model.ConversationMessage, error)
	// AppendMessage appends the next message of a session.
	AppendMessage(ctx context.Context, sessionID uuid.UUID, role model.MessageRole, content model.EncryptedBlob) (*model.ConversationMessage, error)
	// DeleteConversation bulk-deletes one session.
	DeleteConversation(ctx context.Context, sessionID uuid.UUID) error
	// RecentMessages returns the tenant's latest messages for inference.
	RecentMessages(ctx context.Context, limit int) ([]model.ConversationMessage, error)
}

// cacheEnvelope is the serialized cache value. The tenant id is embedded so
// a hit can be cross-checked against the active context: a value that
// somehow landed under the wrong key is refused, never served.
type cacheEnvelope struct {
	TenantID    string    `json:"tenant_id"`
	State       string    `json:"state"` // base64 of the encrypted blob
	LastUpdated time.Time `json:"last_updated"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int64     `json:"access_count"`
}

type ContextStoreImpl struct {
	contexts      repository.AIContextRepository
	conversations repository.ConversationRepository
	reads         *audit.ReadLogger
	cache         cache.Cache
	cacheTTL      time.Duration
	stateTTL      time.Duration
	log           *zap.Logger
}

// NewContextStore constructs the context store service.
func NewContextStore(
	contexts repository.AIContextRepository,
	conversations repository.ConversationRepository,
	reads *audit.ReadLogger,
	c cache.Cache,
	cacheTTL time.Duration,
	log *zap.Logger,
) *ContextStoreImpl {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Minute
	}
	return &ContextStoreImpl{
		contexts:      contexts,
		conversations: conversations,
		reads:         reads,
		cache:         c,
		cacheTTL:      cacheTTL,
		stateTTL:      30 * 24 * time.Hour,
		log:           log,
	}
}

func cacheKey(tenantID uuid.UUID) string { return "aictx:" + tenantID.String() }

// GetContext loads the tenant's AI context, serving from cache when the
// cached envelope's embedded tenant id matches the active context.
func (s *ContextStoreImpl) GetContext(ctx context.Context) (*model.AIContext, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}

	if c := s.fromCache(ctx, tc.TenantID); c != nil {
		s.logRead(ctx, "ai_contexts")
		return c, nil
	}

	c, err := s.contexts.GetOrCreate(ctx, s.stateTTL)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, tc.TenantID, c)
	s.logRead(ctx, "ai_contexts")
	return c, nil
}

// UpdateContext replaces the encrypted state and refreshes the cache.
func (s *ContextStoreImpl) UpdateContext(ctx context.Context, state model.EncryptedBlob) (*model.AIContext, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.contexts.Update(ctx, state, s.stateTTL)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, tc.TenantID, c)
	return c, nil
}

// DeleteContext removes the tenant's AI context and evicts the cache entry.
func (s *ContextStoreImpl) DeleteContext(ctx context.Context) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	if err := s.contexts.Delete(ctx); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, cacheKey(tc.TenantID))
	}
	return nil
}

// GetConversation returns one session's messages in sequence order.
func (s *ContextStoreImpl) GetConversation(ctx context.Context, sessionID uuid.UUID) ([]model.ConversationMessage, error) {
	if sessionID == uuid.Nil {
		return nil, errs.Validation("session_id", "empty")
	}
	msgs, err := s.conversations.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.logRead(ctx, "conversation_messages")
	return msgs, nil
}

// AppendMessage appends the next message of a session.
func (s *ContextStoreImpl) AppendMessage(ctx context.Context, sessionID uuid.UUID, role model.MessageRole, content model.EncryptedBlob) (*model.ConversationMessage, error) {
	if sessionID == uuid.Nil {
		return nil, errs.Validation("session_id", "empty")
	}
	if role != model.MsgRoleUser && role != model.MsgRoleAssistant {
		return nil, errs.Validation("role", "must be user or assistant")
	}
	if len(content) == 0 {
		return nil, errs.Validation("content", "empty")
	}
	return s.conversations.Append(ctx, sessionID, role, content)
}

// DeleteConversation bulk-deletes one session.
func (s *ContextStoreImpl) DeleteConversation(ctx context.Context, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return errs.Validation("session_id", "empty")
	}
	return s.conversations.DeleteSession(ctx, sessionID)
}

// RecentMessages returns the tenant's latest messages for the inference
// adapter.
func (s *ContextStoreImpl) RecentMessages(ctx context.Context, limit int) ([]model.ConversationMessage, error) {
	return s.conversations.Recent(ctx, limit)
}

// fromCache returns a verified cache hit or nil. A hit whose embedded tenant
// id disagrees with the active context is evicted and counted, never served.
func (s *ContextStoreImpl) fromCache(ctx context.Context, tenantID uuid.UUID) *model.AIContext {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, cacheKey(tenantID))
	if err != nil {
		metrics.CacheOps.WithLabelValues("miss").Inc()
		return nil
	}
	var env cacheEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		metrics.CacheOps.WithLabelValues("corrupt").Inc()
		_ = s.cache.Del(ctx, cacheKey(tenantID))
		return nil
	}
	if env.TenantID != tenantID.String() {
		metrics.CacheOps.WithLabelValues("tenant_mismatch").Inc()
		s.log.Error("tenant cache mismatch, refusing hit",
			zap.String("key_tenant", tenantID.String()),
			zap.String("value_tenant", env.TenantID),
		)
		_ = s.cache.Del(ctx, cacheKey(tenantID))
		return nil
	}
	state, err := base64.StdEncoding.DecodeString(env.State)
	if err != nil {
		metrics.CacheOps.WithLabelValues("corrupt").Inc()
		_ = s.cache.Del(ctx, cacheKey(tenantID))
		return nil
	}
	metrics.CacheOps.WithLabelValues("hit").Inc()
	return &model.AIContext{
		UserID:         tenantID,
		EncryptedState: state,
		LastUpdated:    env.LastUpdated,
		ExpiresAt:      env.ExpiresAt,
		AccessCount:    env.AccessCount,
	}
}

func (s *ContextStoreImpl) toCache(ctx context.Context, tenantID uuid.UUID, c *model.AIContext) {
	if s.cache == nil {
		return
	}
	env := cacheEnvelope{
		TenantID:    tenantID.String(),
		State:       base64.StdEncoding.EncodeToString(c.EncryptedState),
		LastUpdated: c.LastUpdated,
		ExpiresAt:   c.ExpiresAt,
		AccessCount: c.AccessCount,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(tenantID), string(raw), s.cacheTTL); err != nil {
		s.log.Warn("tenant cache set failed", zap.Error(err))
	}
}

func (s *ContextStoreImpl) logRead(ctx context.Context, table string) {
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
		ClientIP:    tenantctx.ClientIP(ctx),
	})
}
