package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Room is an owned container of document lineages. Every user additionally
// gets one lazily created archive room (IsArchive) for shelved documents.
type Room struct {
	ID        string
	Name      string
	OwnerID   string
	IsArchive bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomMember grants a user an access level inside a room.
type RoomMember struct {
	RoomID      string
	UserID      string
	AccessLevel string
	InvitedBy   string
	CreatedAt   time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

// Document is one immutable revision of a document. Revisions form a tree via
// ParentID; Version and ForkPath place a revision inside its lineage.
type Document struct {
	ID          string
	Name        string
	OwnerID     string
	RoomID      *string
	ParentID    *string
	Version     int
	ForkPath    string
	ContentType string
	SizeBytes   int64
	ContentHash string
	BlobKey     string
	CreatedAt   time.Time
}

// ShareToken is a bearer credential granting a fixed access level to one
// document until it expires or is revoked. UserID is nil for anonymous tokens.
type ShareToken struct {
	ID          string
	Token       string
	DocumentID  string
	UserID      *string
	AccessLevel string
	CreatedBy   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	RevokedAt   *time.Time
	// Joined field for API responses
	DocumentName string
}

type Contact struct {
	UserID    string
	ContactID string
	CreatedAt time.Time
	// Joined fields for API responses
	ContactEmail string
	ContactName  string
}

// Activity is one feed entry. Payload holds the kind-specific variant encoded
// as JSON; the closed set of kinds and payload shapes lives in internal/app.
type Activity struct {
	ID        int64
	UserID    string
	Kind      string
	Payload   json.RawMessage
	CreatedAt time.Time
	ReadAt    *time.Time
}
