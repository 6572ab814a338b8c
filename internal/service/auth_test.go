package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/audit"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

func newAuth(users *fakeUserRepo, lim *fakeLimiter) *AuthServiceImpl {
	return NewAuthService(users, []byte("test-signing-key"), 15*time.Minute, lim, nil)
}

// newAuditedAuth wires a running read logger so login attempts land in repo.
func newAuditedAuth(t *testing.T, users *fakeUserRepo, lim *fakeLimiter, repo *fakeAuditRepo) *AuthServiceImpl {
	t.Helper()
	reads := audit.NewReadLogger(repo, zap.NewNop(), 256)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reads.Start(ctx)
	return NewAuthService(users, []byte("test-signing-key"), 15*time.Minute, lim, reads)
}

func TestAuth_RegisterValidation(t *testing.T) {
	svc := newAuth(newFakeUserRepo(), &fakeLimiter{})

	_, err := svc.Register(context.Background(), "", "password123")
	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = svc.Register(context.Background(), "alice", "short")
	require.ErrorAs(t, err, &ve)
}

func TestAuth_RegisterLoginRoundTrip(t *testing.T) {
	users := newFakeUserRepo()
	svc := newAuth(users, &fakeLimiter{})
	ctx := context.Background()

	id, err := svc.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	tok, u, err := svc.LoginWithIP(ctx, "alice", "correct horse battery", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, id, u.ID.String())
	require.NotEmpty(t, tok.AccessToken)

	tc, err := svc.ParseToken(tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, id, tc.TenantID.String())
	require.False(t, tc.IsAdmin)
}

func TestAuth_WrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	users := newFakeUserRepo()
	lim := &fakeLimiter{}
	svc := newAuth(users, lim)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	_, _, errWrong := svc.LoginWithIP(ctx, "alice", "wrong password!", "10.0.0.1")
	_, _, errGhost := svc.LoginWithIP(ctx, "ghost", "whatever pass", "10.0.0.1")
	require.ErrorIs(t, errWrong, errs.ErrUnauthorized)
	require.ErrorIs(t, errGhost, errs.ErrUnauthorized)
	require.Equal(t, 2, lim.fails)
}

func TestAuth_RateLimitedBeforeCredentialCheck(t *testing.T) {
	users := newFakeUserRepo()
	svc := newAuth(users, &fakeLimiter{blocked: true})

	_, _, err := svc.LoginWithIP(context.Background(), "alice", "correct horse battery", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrRateLimited)
}

func TestAuth_AdminRoleTravelsInToken(t *testing.T) {
	users := newFakeUserRepo()
	svc := newAuth(users, &fakeLimiter{})
	ctx := context.Background()

	id, err := svc.Register(ctx, "root", "correct horse battery")
	require.NoError(t, err)

	u, err := users.GetByUsername(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, id, u.ID.String())
	require.NoError(t, users.SetRole(ctx, u.ID, model.RoleAdmin))

	tok, _, err := svc.LoginWithIP(ctx, "root", "correct horse battery", "10.0.0.1")
	require.NoError(t, err)

	tc, err := svc.ParseToken(tok.AccessToken)
	require.NoError(t, err)
	require.True(t, tc.IsAdmin)
}

func TestAuth_ParseTokenRejectsGarbageAndForeignKey(t *testing.T) {
	users := newFakeUserRepo()
	svc := newAuth(users, &fakeLimiter{})
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	other := NewAuthService(users, []byte("some-other-key"), 15*time.Minute, &fakeLimiter{}, nil)
	tok, _, err := other.LoginWithIP(ctx, "alice", "correct horse battery", "10.0.0.1")
	require.NoError(t, err)

	_, err = svc.ParseToken(tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = svc.ParseToken("not-a-jwt")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuth_ErasedAccountCannotLogin(t *testing.T) {
	users := newFakeUserRepo()
	svc := newAuth(users, &fakeLimiter{})
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)
	u, err := users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, users.Erase(ctx, u.ID))

	_, _, err = svc.LoginWithIP(ctx, "alice", "correct horse battery", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuth_LoginAttemptsAreAudited(t *testing.T) {
	users := newFakeUserRepo()
	repo := &fakeAuditRepo{}
	svc := newAuditedAuth(t, users, &fakeLimiter{}, repo)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)
	u, err := users.GetByUsername(ctx, "alice")
	require.NoError(t, err)

	_, _, err = svc.LoginWithIP(ctx, "alice", "wrong password!", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, _, err = svc.LoginWithIP(ctx, "ghost", "whatever pass", "10.0.0.2")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, _, err = svc.LoginWithIP(ctx, "alice", "correct horse battery", "10.0.0.1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(repo.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	entries := repo.snapshot()
	for _, e := range entries {
		require.Equal(t, model.OpLogin, e.Operation)
		require.Equal(t, "users", e.TableName)
		require.NotEmpty(t, e.ClientIP)
	}
	require.Equal(t, u.ID, *entries[0].ActorUserID)
	require.Equal(t, "login-failed", entries[0].RecordID)
	require.Nil(t, entries[1].ActorUserID) // unknown username resolves to no actor
	require.Equal(t, "login-failed", entries[1].RecordID)
	require.Equal(t, u.ID, *entries[2].ActorUserID)
	require.Equal(t, "login-ok", entries[2].RecordID)
}

func TestAuth_LoginBurstGetsFlaggedNotBlocked(t *testing.T) {
	users := newFakeUserRepo()
	repo := &fakeAuditRepo{}
	svc := newAuditedAuth(t, users, &fakeLimiter{}, repo)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		_, _, err := svc.LoginWithIP(ctx, "alice", "wrong password!", "203.0.113.7")
		require.ErrorIs(t, err, errs.ErrUnauthorized)
	}
	require.Eventually(t, func() bool { return len(repo.snapshot()) == 150 }, 2*time.Second, 5*time.Millisecond)

	det := audit.NewDetector(repo, zap.NewNop())
	flagged, err := det.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(50), flagged) // 150 attempts, rate threshold 100

	// flagging marks entries, nothing is removed
	entries := repo.snapshot()
	require.Len(t, entries, 150)
	var suspicious int
	for _, e := range entries {
		if e.FlaggedSuspicious {
			suspicious++
		}
	}
	require.Equal(t, 50, suspicious)
}

func TestErasure_RemovesEverythingTenantOwns(t *testing.T) {
	users := newFakeUserRepo()
	entries := newFakeEntryRepo()
	convs := newFakeConversationRepo()
	aiCtxs := newFakeAIContextRepo()
	auth := newAuth(users, &fakeLimiter{})
	erasure := NewErasureService(users, entries, convs, aiCtxs)
	ctx := context.Background()

	id, err := auth.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)
	u, err := users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	tctx := tenantCtx(u.ID)

	_, err = entries.Create(tctx, model.KindMood, []byte(`{"score":5}`))
	require.NoError(t, err)
	_, err = convs.Append(tctx, u.ID, model.MsgRoleUser, model.EncryptedBlob("hi"))
	require.NoError(t, err)
	_, err = aiCtxs.GetOrCreate(tctx, time.Hour)
	require.NoError(t, err)

	require.NoError(t, erasure.Erase(tctx))

	listed, err := entries.List(tctx, model.KindMood, model.EntryFilter{})
	require.NoError(t, err)
	require.Empty(t, listed)
	msgs, err := convs.GetSession(tctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)

	_, _, err = auth.LoginWithIP(ctx, "alice", "correct horse battery", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, id, u.ID.String())

	// a repeat erase reports the account as already gone
	require.ErrorIs(t, erasure.Erase(tctx), errs.ErrErased)
}
