package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/metrics"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/repository"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// EngineInput is everything an inference engine may see for one call. It is
// assembled exclusively from the active tenant's rows.
type EngineInput struct {
	Entry          *model.Entry
	ContextState   model.EncryptedBlob
	RecentMessages []model.ConversationMessage
}

// EngineResult is what an engine returns. UpdatedState, when non-nil,
// replaces the tenant's stored AI context state.
type EngineResult struct {
	Summary      string
	UpdatedState model.EncryptedBlob
}

// Engine is a stateless analysis backend. Implementations must not retain
// input between calls; all state lives in the context store.
type Engine interface {
	Analyze(ctx context.Context, in EngineInput) (*EngineResult, error)
}

// Analysis is the service-level result returned to the caller.
type Analysis struct {
	EntryID    uuid.UUID `json:"entry_id"`
	Summary    string    `json:"summary"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// InferenceAdapter mediates between tenant data and an inference engine.
// The engine never opens its own storage access: the adapter assembles the
// input from the active tenant's rows, checks ownership of the target record
// against the context, and persists the result back through the store. The
// admin flag does not bypass the ownership check here; analysis always runs
// as the owner.
type InferenceAdapter struct {
	entries    repository.EntryRepository
	store      ContextStore
	engine     Engine
	recentSize int
	log        *zap.Logger
}

// NewInferenceAdapter constructs the adapter around an engine.
func NewInferenceAdapter(entries repository.EntryRepository, store ContextStore, engine Engine, log *zap.Logger) *InferenceAdapter {
	return &InferenceAdapter{
		entries:    entries,
		store:      store,
		engine:     engine,
		recentSize: 20,
		log:        log,
	}
}

// Analyze runs the engine over one of the tenant's entries. The row-level
// policies already hide foreign rows; the explicit owner comparison below is
// the second, independent barrier on the inference path.
func (a *InferenceAdapter) Analyze(ctx context.Context, kind model.EntryKind, entryID uuid.UUID) (*Analysis, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	if entryID == uuid.Nil {
		return nil, errs.Validation("id", "empty")
	}

	entry, err := a.entries.Get(ctx, kind, entryID)
	if err != nil {
		return nil, err
	}
	if entry.OwnerID != tc.TenantID {
		metrics.EnforcementViolations.Inc()
		a.log.Error("inference input ownership mismatch",
			zap.String("tenant", tc.TenantID.String()),
			zap.String("owner", entry.OwnerID.String()),
		)
		return nil, errs.ErrPermission
	}

	aiCtx, err := a.store.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := a.store.RecentMessages(ctx, a.recentSize)
	if err != nil {
		return nil, err
	}

	res, err := a.engine.Analyze(ctx, EngineInput{
		Entry:          entry,
		ContextState:   aiCtx.EncryptedState,
		RecentMessages: recent,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if res.UpdatedState != nil {
		if _, err := a.store.UpdateContext(ctx, res.UpdatedState); err != nil {
			return nil, err
		}
	}

	return &Analysis{
		EntryID:    entry.ID,
		Summary:    res.Summary,
		AnalyzedAt: time.Now(),
	}, nil
}

// localEngine is the built-in engine used when no external backend is
// configured. It produces a plain activity summary without reading the
// encrypted payloads it cannot decrypt.
type localEngine struct{}

// NewLocalEngine returns the default in-process engine.
func NewLocalEngine() Engine { return localEngine{} }

func (localEngine) Analyze(_ context.Context, in EngineInput) (*EngineResult, error) {
	summary := fmt.Sprintf("%s entry from %s, %d recent messages on file",
		kindLabel(in.Entry.Kind), in.Entry.CreatedAt.Format("2006-01-02"), len(in.RecentMessages))

	if in.Entry.Kind == model.KindMood {
		var m moodPayload
		if err := json.Unmarshal(in.Entry.Payload, &m); err == nil && m.Score > 0 {
			summary = fmt.Sprintf("mood score %d/10 recorded on %s, %d recent messages on file",
				m.Score, in.Entry.CreatedAt.Format("2006-01-02"), len(in.RecentMessages))
		}
	}
	return &EngineResult{Summary: summary}, nil
}

func kindLabel(k model.EntryKind) string {
	switch k {
	case model.KindMood:
		return "mood"
	case model.KindDream:
		return "dream"
	case model.KindTherapy:
		return "therapy"
	default:
		return string(k)
	}
}
