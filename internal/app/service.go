// Package app wires the domain services behind the HTTP surface: sessions,
// rooms, document lineages, share tokens, contacts, and the activity feed.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"vlado/api/internal/access"
	"vlado/api/internal/auth"
	"vlado/api/internal/authpw"
	"vlado/api/internal/blob"
	"vlado/api/internal/config"
	"vlado/api/internal/email"
	"vlado/api/internal/search"
	"vlado/api/internal/session"
	"vlado/api/internal/store"
	"vlado/api/internal/util"
	"vlado/api/internal/version"
)

// Session is an authenticated caller, reconstructed from an access token.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	SearchUsersByEmail(ctx context.Context, query string, limit int) ([]store.User, error)

	InsertRoom(ctx context.Context, room store.Room) error
	GetRoom(ctx context.Context, roomID string) (store.Room, error)
	ListRooms(ctx context.Context, userID string) ([]store.Room, error)
	UpdateRoomName(ctx context.Context, roomID, name string) error
	EnsureArchiveRoom(ctx context.Context, ownerID, candidateID string) (store.Room, error)
	DeleteRoomCascade(ctx context.Context, roomID, actingUserID string) error
	UpsertRoomMember(ctx context.Context, member store.RoomMember) error
	GetRoomMember(ctx context.Context, roomID, userID string) (*store.RoomMember, error)
	ListRoomMembers(ctx context.Context, roomID string) ([]store.RoomMember, error)
	DeleteRoomMember(ctx context.Context, roomID, userID string) (bool, error)

	InsertDocument(ctx context.Context, item store.Document) error
	GetDocument(ctx context.Context, documentID string) (*store.Document, error)
	ListDocumentChildren(ctx context.Context, parentID string) ([]store.Document, error)
	ListRootDocuments(ctx context.Context, ownerID string, roomID *string) ([]store.Document, error)
	RootForkPathExists(ctx context.Context, ownerID string, roomID *string, forkPath string) (bool, error)
	ListRoomDocuments(ctx context.Context, roomID string) ([]store.Document, error)
	ListLooseDocuments(ctx context.Context, ownerID string) ([]store.Document, error)
	ListRevisionHistory(ctx context.Context, documentID string) ([]store.Document, error)
	MoveDocument(ctx context.Context, documentID string, roomID *string) error
	DeleteDocument(ctx context.Context, documentID string) error

	InsertShareToken(ctx context.Context, token store.ShareToken) error
	GetShareToken(ctx context.Context, tokenValue, documentID string) (*store.ShareToken, error)
	ListShareTokens(ctx context.Context, createdBy string) ([]store.ShareToken, error)
	RevokeShareToken(ctx context.Context, tokenID, createdBy string) (bool, error)

	InsertContact(ctx context.Context, userID, contactID string) error
	DeleteContact(ctx context.Context, userID, contactID string) (bool, error)
	ListContacts(ctx context.Context, userID string) ([]store.Contact, error)

	InsertActivity(ctx context.Context, activity store.Activity) error
	ListActivities(ctx context.Context, userID string, limit int) ([]store.Activity, error)
	MarkActivitiesRead(ctx context.Context, userID string) error

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, sess session.Session, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.Session, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type blobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendRoomInvitationEmail(to, userName, inviterName, roomName, accessLevel, roomURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	blobs    blobStore
	search   searchIndex
	mail     mailer
	auth     *authpw.Service
	alloc    *version.Allocator
	resolver *access.Resolver
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, blobs *blob.Store, searchSvc *search.Service, mail *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		blobs:    blobs,
		search:   searchSvc,
		mail:     mail,
		auth:     authpw.NewService(dataStore),
		alloc:    version.NewAllocator(dataStore),
		resolver: access.NewResolver(dataStore),
	}
}

// AuthPasswordService exposes the email/password flows to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.auth
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues a fresh access/refresh token pair for a user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued, so a stolen token works at most once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	sess, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	err = s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), session.Session{
		UserID:   user.ID,
		UserName: user.DisplayName,
	}, refreshExpires)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// SendVerificationEmail delivers the signup verification link. A no-op when
// SMTP is not configured; the HTTP layer falls back to a dev token.
func (s *Service) SendVerificationEmail(userEmail, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.AppBaseURL, token)
	go func() {
		_ = s.mail.SendVerificationEmail(userEmail, userName, url)
	}()
}

func (s *Service) SendPasswordResetEmail(userEmail, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.AppBaseURL, token)
	go func() {
		_ = s.mail.SendPasswordResetEmail(userEmail, userName, url)
	}()
}

// requireAccess resolves the caller's permission on a document and converts a
// denial into the uniform 403. Absent documents deny the same way.
func (s *Service) requireAccess(ctx context.Context, userID, documentID string, required access.Level, shareToken string) error {
	ok, err := s.resolver.Resolve(ctx, userID, documentID, required, shareToken)
	if err != nil {
		return err
	}
	if !ok {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// roomAccess reports whether the user holds the required level in a room.
// Owners hold every level implicitly.
func (s *Service) roomAccess(ctx context.Context, room store.Room, userID string, required access.Level) (bool, error) {
	if room.OwnerID == userID {
		return true, nil
	}
	member, err := s.store.GetRoomMember(ctx, room.ID, userID)
	if err != nil {
		return false, err
	}
	if member == nil {
		return false, nil
	}
	return access.Normalize(member.AccessLevel).Covers(required), nil
}

// Activity kinds form a closed set; each kind has one payload shape.
const (
	activityRoomInvite    = "room_invite"
	activityRoomRemoved   = "room_removed"
	activityDocShared     = "document_shared"
	activityRevisionAdded = "revision_added"
)

type roomInvitePayload struct {
	RoomID      string `json:"roomId"`
	RoomName    string `json:"roomName"`
	InviterName string `json:"inviterName"`
	AccessLevel string `json:"accessLevel"`
}

type roomRemovedPayload struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

type docSharedPayload struct {
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	SharerName   string `json:"sharerName"`
	AccessLevel  string `json:"accessLevel"`
}

type revisionAddedPayload struct {
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	AuthorName   string `json:"authorName"`
	Version      int    `json:"version"`
	ForkPath     string `json:"forkPath"`
}

// recordActivity appends a feed entry. Feed writes never fail the operation
// that produced them.
func (s *Service) recordActivity(ctx context.Context, userID, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = s.store.InsertActivity(ctx, store.Activity{
		UserID:  userID,
		Kind:    kind,
		Payload: data,
	})
}

// ListFeed returns the user's newest activity entries.
func (s *Service) ListFeed(ctx context.Context, sess Session, limit int) ([]map[string]any, error) {
	activities, err := s.store.ListActivities(ctx, sess.UserID, limit)
	if err != nil {
		return nil, err
	}

	payload := make([]map[string]any, 0, len(activities))
	for _, activity := range activities {
		entry := map[string]any{
			"id":        activity.ID,
			"kind":      activity.Kind,
			"payload":   json.RawMessage(activity.Payload),
			"createdAt": activity.CreatedAt,
			"read":      activity.ReadAt != nil,
		}
		payload = append(payload, entry)
	}
	return payload, nil
}

func (s *Service) MarkFeedRead(ctx context.Context, sess Session) error {
	return s.store.MarkActivitiesRead(ctx, sess.UserID)
}

// SearchDocuments runs a scoped full-text search over everything the caller
// can see: owned documents plus every room they belong to.
func (s *Service) SearchDocuments(ctx context.Context, sess Session, text, roomID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}

	rooms, err := s.store.ListRooms(ctx, sess.UserID)
	if err != nil {
		return search.Response{}, err
	}
	roomIDs := make([]string, 0, len(rooms))
	for _, room := range rooms {
		roomIDs = append(roomIDs, room.ID)
	}

	return s.search.Search(search.Query{
		Text:         text,
		UserID:       sess.UserID,
		RoomIDs:      roomIDs,
		FilterRoomID: roomID,
		Limit:        limit,
		Offset:       offset,
	}), nil
}

// Bootstrap runs startup work that needs the full stack: backfilling the
// search index from Postgres.
func (s *Service) Bootstrap(ctx context.Context, searchSvc *search.Service) {
	if searchSvc != nil {
		searchSvc.ReindexAllFromPG(ctx)
	}
}
