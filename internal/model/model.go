// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is a user's system role. Only the role may change after registration.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// DeletionState is the record lifecycle. Soft deletion (retention sweeps)
// and GDPR erasure are distinct states so the two flows cannot be confused.
type DeletionState string

const (
	StateActive      DeletionState = "active"
	StateSoftDeleted DeletionState = "soft_deleted"
	StateErased      DeletionState = "erased"
)

// EncryptedBlob is an opaque ciphertext produced on the client side.
// The server never decrypts it.
type EncryptedBlob []byte

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// User represents an account. Passwords are stored as Argon2id hashes only.
type User struct {
	ID            uuid.UUID
	Username      string
	PwdHash       []byte
	SaltAuth      []byte
	Role          Role
	DeletionState DeletionState
	DeletedAt     *time.Time
	CreatedAt     time.Time
}

// EntryKind names a tenant-owned record table.
type EntryKind string

const (
	KindMood    EntryKind = "mood_entries"
	KindDream   EntryKind = "dream_entries"
	KindTherapy EntryKind = "therapy_notes"
)

// Entry is a tenant-owned journal record (mood, dream, therapy). OwnerID is
// set exactly once at creation and never reassigned.
type Entry struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Kind          EntryKind
	Payload       []byte // jsonb document; encrypted for dream/therapy kinds
	DeletionState DeletionState
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EntryPatch carries updatable fields of an entry. Nil means "leave as is".
type EntryPatch struct {
	Payload []byte
}

// EntryFilter narrows List results inside the tenant's own rows.
type EntryFilter struct {
	Since          *time.Time
	Until          *time.Time
	IncludeDeleted bool
	Limit          int
}

// AIContext is the per-user AI state: derived summaries and counters,
// encrypted at rest. One row per user, created lazily.
type AIContext struct {
	UserID         uuid.UUID
	EncryptedState EncryptedBlob
	LastUpdated    time.Time
	ExpiresAt      time.Time
	AccessCount    int64
}

// MessageRole is the author side of a conversation message.
type MessageRole string

const (
	MsgRoleUser      MessageRole = "user"
	MsgRoleAssistant MessageRole = "assistant"
)

// ConversationMessage is one append-only message within a session, strictly
// ordered by SequenceNumber.
type ConversationMessage struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	SessionID        uuid.UUID
	SequenceNumber   int64
	Role             MessageRole
	EncryptedContent EncryptedBlob
	CreatedAt        time.Time
}

// Operation names an audited data operation.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpLogin  Operation = "login"
)

// AuditEntry is an immutable record of one operation. ActorUserID is nil
// for system actions (sweeps excluded, see audit package).
type AuditEntry struct {
	ID                int64
	ActorUserID       *uuid.UUID
	TableName         string
	Operation         Operation
	RecordID          string
	AdminAction       bool
	FlaggedSuspicious bool
	ClientIP          string
	CreatedAt         time.Time
}

// AuditFilter narrows admin audit queries.
type AuditFilter struct {
	ActorUserID    *uuid.UUID
	TableName      string
	Operation      Operation
	Since          *time.Time
	Until          *time.Time
	OnlyAdmin      bool
	OnlySuspicious bool
	Limit          int
}
