// Package service contains application services between transport and storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/audit"
	pkgcrypto "github.com/TheRealHZL/MentalHealth-sub000/internal/crypto"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/limiter"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/repository"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// AuthService defines registration, login and identity verification.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, username, password string) (userID string, err error)
	// LoginWithIP applies rate limiting and authenticates the user.
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, *model.User, error)
	// ParseToken verifies an access token and returns the tenant identity it
	// carries. The middleware is the only intended caller.
	ParseToken(token string) (tenantctx.TenantContext, error)
}

// Claims are the access-token claims. The admin flag travels in the token so
// the middleware can construct the full tenant context without a user lookup.
type Claims struct {
	Admin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	reads     *audit.ReadLogger
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, reads *audit.ReadLogger) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, signKey: signKey, accessTTL: accessTTL, lim: lim, reads: reads}
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" {
		return "", errs.Validation("username", "empty")
	}
	if len(password) < 8 {
		return "", errs.Validation("password", "too short")
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		return "", err
	}

	u := &model.User{
		ID:            uid,
		Username:      username,
		PwdHash:       pkgcrypto.HashPassword([]byte(password), salt),
		SaltAuth:      salt,
		Role:          model.RoleStandard,
		DeletionState: model.StateActive,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", err
	}
	return uid.String(), nil
}

// LoginWithIP authenticates with rate limiting by (username, ip). Every
// attempt is audited best-effort, whatever its outcome; the detector job
// flags bursts from there.
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, *model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if !allowed {
		s.logAttempt(nil, ip, "login-blocked")
		return model.Tokens{}, nil, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		var actor *uuid.UUID
		if err == nil {
			actor = &u.ID
		}
		s.logAttempt(actor, ip, "login-failed")
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, nil, errs.ErrRateLimited
		}
		// wrong password and unknown user look the same to the caller
		return model.Tokens{}, nil, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, username, ipHash)
	s.logAttempt(&u.ID, ip, "login-ok")

	tok, err := s.issueAccessToken(u)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return tok, u, nil
}

// logAttempt enqueues one login audit entry. Actor is nil when the username
// did not resolve to an account; the client IP is always recorded.
func (s *AuthServiceImpl) logAttempt(actor *uuid.UUID, ip, outcome string) {
	if s.reads == nil {
		return
	}
	s.reads.Log(model.AuditEntry{
		ActorUserID: actor,
		TableName:   "users",
		Operation:   model.OpLogin,
		RecordID:    outcome,
		ClientIP:    ip,
	})
}

// ParseToken verifies signature and expiry and maps the claims onto a tenant
// context. This is the single place client-presented identity becomes a
// TenantContext.
func (s *AuthServiceImpl) ParseToken(token string) (tenantctx.TenantContext, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return tenantctx.TenantContext{}, errs.ErrUnauthorized
	}
	uid, err := uuid.FromString(claims.Subject)
	if err != nil || uid == uuid.Nil {
		return tenantctx.TenantContext{}, errs.ErrUnauthorized
	}
	return tenantctx.TenantContext{TenantID: uid, IsAdmin: claims.Admin}, nil
}

// issueAccessToken creates a signed HS256 JWT for the given user.
func (s *AuthServiceImpl) issueAccessToken(u *model.User) (model.Tokens, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Admin: u.Role == model.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}

// ErasureService runs the GDPR flow: hard-delete everything the tenant owns,
// then mark the account erased. Each step is tenant-scoped; the account row
// survives in the erased state so the audit trail keeps its referent until
// retention removes it.
type ErasureService struct {
	users         repository.UserRepository
	entries       repository.EntryRepository
	conversations repository.ConversationRepository
	aiContexts    repository.AIContextRepository
}

// NewErasureService constructs the GDPR erasure flow.
func NewErasureService(
	users repository.UserRepository,
	entries repository.EntryRepository,
	conversations repository.ConversationRepository,
	aiContexts repository.AIContextRepository,
) *ErasureService {
	return &ErasureService{users: users, entries: entries, conversations: conversations, aiContexts: aiContexts}
}

// Erase removes all data of the active tenant.
func (s *ErasureService) Erase(ctx context.Context) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	if err := s.entries.EraseOwner(ctx); err != nil {
		return fmt.Errorf("erase entries: %w", err)
	}
	if err := s.conversations.EraseOwner(ctx); err != nil {
		return fmt.Errorf("erase conversations: %w", err)
	}
	if err := s.aiContexts.Delete(ctx); err != nil {
		return fmt.Errorf("erase ai context: %w", err)
	}
	if err := s.users.Erase(ctx, tc.TenantID); err != nil {
		if errors.Is(err, errs.ErrErased) {
			return errs.ErrErased
		}
		return fmt.Errorf("erase account: %w", err)
	}
	return nil
}
