package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

func TestConversationRepo_Append_TakesSequenceFromCounter(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConversationRepo(db)

	tenant := uuid.Must(uuid.NewV4())
	session := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(bindTenantRE).
		WithArgs(tenant.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`INSERT INTO conversation_sessions`).
		WithArgs(tenant, session).
		WillReturnRows(pgxmock.NewRows([]string{"next_seq"}).AddRow(int64(7)))
	mock.ExpectQuery(`INSERT INTO conversation_messages`).
		WithArgs(pgxmock.AnyArg(), tenant, session, int64(7), "user", []byte("ciphertext")).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec(`INSERT INTO audit_entries`).
		WithArgs(tenant, "conversation_messages", "create", pgxmock.AnyArg(), false, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	m, err := r.Append(tenantCtx(tenant), session, model.MsgRoleUser, model.EncryptedBlob("ciphertext"))
	require.NoError(t, err)
	require.Equal(t, int64(7), m.SequenceNumber)
	require.Equal(t, tenant, m.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepo_Append_NoTenant(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConversationRepo(db)

	_, err := r.Append(context.Background(), uuid.Must(uuid.NewV4()), model.MsgRoleUser, model.EncryptedBlob("x"))
	require.ErrorIs(t, err, errs.ErrNoTenant)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepo_GetSession_OrderedBySequence(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConversationRepo(db)

	tenant := uuid.Must(uuid.NewV4())
	session := uuid.Must(uuid.NewV4())
	now := time.Now()

	rows := pgxmock.NewRows([]string{"id", "user_id", "session_id", "sequence_number", "role", "encrypted_content", "created_at"})
	for i := int64(1); i <= 3; i++ {
		rows.AddRow(uuid.Must(uuid.NewV4()), tenant, session, i, "user", []byte("m"), now)
	}

	mock.ExpectBegin()
	mock.ExpectExec(bindTenantRE).
		WithArgs(tenant.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FROM conversation_messages`).
		WithArgs(session).
		WillReturnRows(rows)
	mock.ExpectCommit()

	out, err := r.GetSession(tenantCtx(tenant), session)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, m := range out {
		require.Equal(t, int64(i+1), m.SequenceNumber)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepo_DeleteOlderThan_SkipsAuditWhenNothingDeleted(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConversationRepo(db)

	cutoff := time.Now().Add(-90 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(bindAdminRE).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`DELETE FROM conversation_messages WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	n, err := r.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepo_DeleteOlderThan_AuditsSweep(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewConversationRepo(db)

	cutoff := time.Now().Add(-90 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(bindAdminRE).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`DELETE FROM conversation_messages WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))
	mock.ExpectExec(`INSERT INTO audit_entries`).
		WithArgs(nil, "conversation_messages", "delete", "retention-sweep", false, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := r.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
