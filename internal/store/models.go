package store

import "time"

type User struct {
	ID                    string
	Email                 string
	DisplayName           string
	PasswordHash          string
	AvatarURL             string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Profile is the secondary profile record consulted when the identity
// provider supplies no display name.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	UpdatedAt   time.Time
}

type Document struct {
	ID          string
	Title       string
	Content     *string
	OwnerID     string
	DriveFileID *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Grant is one row of the access_grants table. Exactly one row shape holds
// per row: a named-user grant (UserID set), an anonymous link grant (Token
// set), or an email-restricted invite (Token and InvitedEmail set).
type Grant struct {
	ID           string
	DocumentID   string
	UserID       *string
	Token        *string
	InvitedEmail *string
	Permission   string
	CreatedAt    time.Time
}

// SharedDocument is a document joined with the grant that exposes it to the
// caller, as returned by the shared side of the dashboard listing.
type SharedDocument struct {
	Document
	GrantID    string
	Permission string
}

// AuditEvent is a fire-and-forget lifecycle record; write failures are
// logged, never surfaced.
type AuditEvent struct {
	ID         int64
	DocumentID *string
	ActorID    string
	EventType  string
	Metadata   map[string]any
	CreatedAt  time.Time
}
