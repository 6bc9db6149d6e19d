package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"vlado/api/internal/access"
	"vlado/api/internal/store"
	"vlado/api/internal/util"
)

func shareTokenPayload(token store.ShareToken) map[string]any {
	payload := map[string]any{
		"id":           token.ID,
		"token":        token.Token,
		"documentId":   token.DocumentID,
		"documentName": token.DocumentName,
		"accessLevel":  token.AccessLevel,
		"createdBy":    token.CreatedBy,
		"expiresAt":    token.ExpiresAt,
		"createdAt":    token.CreatedAt,
		"revoked":      token.RevokedAt != nil,
	}
	if token.UserID != nil {
		payload["userId"] = *token.UserID
	}
	return payload
}

type CreateShareTokenInput struct {
	AccessLevel string
	UserEmail   string
	ExpiresIn   time.Duration
}

// CreateShareToken mints a share link for a document. Left unbound the token
// works for anyone holding it; bound to an email it only works for that
// signed-in account.
func (s *Service) CreateShareToken(ctx context.Context, sess Session, documentID string, input CreateShareTokenInput) (map[string]any, error) {
	if err := s.requireAccess(ctx, sess.UserID, documentID, access.LevelManage, ""); err != nil {
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	var boundUser *store.User
	if email := strings.TrimSpace(input.UserEmail); email != "" {
		user, err := s.store.GetUserByEmail(ctx, email)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account with that email", nil)
		}
		if err != nil {
			return nil, err
		}
		boundUser = &user
	}

	expiresIn := input.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = s.cfg.ShareTTL
	}

	token := store.ShareToken{
		ID:          util.NewID("tok"),
		Token:       util.NewToken(),
		DocumentID:  documentID,
		AccessLevel: string(access.Normalize(input.AccessLevel)),
		CreatedBy:   sess.UserID,
		ExpiresAt:   time.Now().Add(expiresIn),
	}
	if boundUser != nil {
		token.UserID = &boundUser.ID
	}

	if err := s.store.InsertShareToken(ctx, token); err != nil {
		return nil, err
	}

	if boundUser != nil && boundUser.ID != sess.UserID {
		s.recordActivity(ctx, boundUser.ID, activityDocShared, docSharedPayload{
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			SharerName:   sess.UserName,
			AccessLevel:  token.AccessLevel,
		})
	}

	token.DocumentName = doc.Name
	return shareTokenPayload(token), nil
}

// ListShareTokens returns the tokens the caller has minted, newest first.
func (s *Service) ListShareTokens(ctx context.Context, sess Session) ([]map[string]any, error) {
	tokens, err := s.store.ListShareTokens(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(tokens))
	for _, token := range tokens {
		payload = append(payload, shareTokenPayload(token))
	}
	return payload, nil
}

// RevokeShareToken kills a token the caller minted. Tokens minted by others
// look like they never existed.
func (s *Service) RevokeShareToken(ctx context.Context, sess Session, tokenID string) error {
	revoked, err := s.store.RevokeShareToken(ctx, tokenID, sess.UserID)
	if err != nil {
		return err
	}
	if !revoked {
		return domainError(http.StatusNotFound, "NOT_FOUND", "No such token", nil)
	}
	return nil
}

func contactPayload(contact store.Contact) map[string]any {
	return map[string]any{
		"userId":  contact.ContactID,
		"email":   contact.ContactEmail,
		"name":    contact.ContactName,
		"addedAt": contact.CreatedAt,
	}
}

func (s *Service) AddContact(ctx context.Context, sess Session, email string) (map[string]any, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required", nil)
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account with that email", nil)
	}
	if err != nil {
		return nil, err
	}
	if user.ID == sess.UserID {
		return nil, domainError(http.StatusConflict, "SELF_CONTACT", "You are always in your own address book", nil)
	}

	if err := s.store.InsertContact(ctx, sess.UserID, user.ID); err != nil {
		return nil, err
	}
	return contactPayload(store.Contact{
		UserID:       sess.UserID,
		ContactID:    user.ID,
		ContactEmail: user.Email,
		ContactName:  user.DisplayName,
	}), nil
}

func (s *Service) ListContacts(ctx context.Context, sess Session) ([]map[string]any, error) {
	contacts, err := s.store.ListContacts(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(contacts))
	for _, contact := range contacts {
		payload = append(payload, contactPayload(contact))
	}
	return payload, nil
}

func (s *Service) RemoveContact(ctx context.Context, sess Session, contactID string) error {
	removed, err := s.store.DeleteContact(ctx, sess.UserID, contactID)
	if err != nil {
		return err
	}
	if !removed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "No such contact", nil)
	}
	return nil
}

// SearchUsers finds accounts by email prefix for invite autocomplete.
func (s *Service) SearchUsers(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return []map[string]any{}, nil
	}
	if limit <= 0 || limit > 20 {
		limit = 10
	}

	users, err := s.store.SearchUsersByEmail(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payload = append(payload, map[string]any{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.DisplayName,
		})
	}
	return payload, nil
}
