package access

import (
	"context"
	"fmt"

	"vlado/api/internal/store"
)

// Store is the narrow lookup surface the resolver needs. Lookups return nil
// without error when the row is absent, revoked, or expired.
type Store interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	GetRoomMember(ctx context.Context, roomID, userID string) (*store.RoomMember, error)
	GetShareToken(ctx context.Context, tokenValue, documentID string) (*store.ShareToken, error)
}

type Resolver struct {
	store Store
}

func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve reports whether the caller may act on the document at the required
// level. userID is empty for anonymous callers; tokenValue is empty when no
// share token accompanies the request. A missing document denies rather than
// erroring, so callers cannot distinguish absent documents from forbidden
// ones.
func (r *Resolver) Resolve(ctx context.Context, userID, documentID string, required Level, tokenValue string) (bool, error) {
	doc, err := r.store.GetDocument(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("get document %s: %w", documentID, err)
	}
	if doc == nil {
		return false, nil
	}

	// Ownership grants every level unconditionally.
	if userID != "" && doc.OwnerID == userID {
		return true, nil
	}

	// Room membership counts only while the document actually sits in the
	// room the caller belongs to.
	if userID != "" && doc.RoomID != nil {
		member, err := r.store.GetRoomMember(ctx, *doc.RoomID, userID)
		if err != nil {
			return false, fmt.Errorf("get room member: %w", err)
		}
		if member != nil && Normalize(member.AccessLevel).Covers(required) {
			return true, nil
		}
	}

	if tokenValue != "" {
		token, err := r.store.GetShareToken(ctx, tokenValue, doc.ID)
		if err != nil {
			return false, fmt.Errorf("get share token: %w", err)
		}
		if token != nil && tokenUsableBy(token, userID) && Normalize(token.AccessLevel).Covers(required) {
			return true, nil
		}
	}

	return false, nil
}

// tokenUsableBy enforces token binding: a token issued to a specific user is
// dead in anyone else's hands, while an unbound token works for any caller,
// anonymous included.
func tokenUsableBy(token *store.ShareToken, userID string) bool {
	if token.UserID == nil {
		return true
	}
	return userID != "" && *token.UserID == userID
}
