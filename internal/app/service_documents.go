package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vlado/api/internal/access"
	"vlado/api/internal/search"
	"vlado/api/internal/store"
	"vlado/api/internal/util"
	"vlado/api/internal/version"
)

// insertAttempts bounds the reallocate-and-insert loop used when concurrent
// writers race for the same (version, forkPath) slot.
const insertAttempts = 3

func documentPayload(doc store.Document) map[string]any {
	payload := map[string]any{
		"id":          doc.ID,
		"name":        doc.Name,
		"ownerId":     doc.OwnerID,
		"version":     doc.Version,
		"forkPath":    doc.ForkPath,
		"contentType": doc.ContentType,
		"sizeBytes":   doc.SizeBytes,
		"contentHash": doc.ContentHash,
		"createdAt":   doc.CreatedAt,
	}
	if doc.RoomID != nil {
		payload["roomId"] = *doc.RoomID
	}
	if doc.ParentID != nil {
		payload["parentId"] = *doc.ParentID
	}
	return payload
}

type UploadDocumentInput struct {
	Name        string
	ContentType string
	Content     []byte
	RoomID      *string
}

// UploadDocument stores a payload and starts a brand-new lineage, either
// loose or inside a room the caller can edit.
func (s *Service) UploadDocument(ctx context.Context, sess Session, input UploadDocumentInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if len(input.Content) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(input.Content)) > s.cfg.MaxUploadBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Document exceeds the upload limit", nil)
	}

	if input.RoomID != nil {
		room, err := s.store.GetRoom(ctx, *input.RoomID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		if err != nil {
			return nil, err
		}
		allowed, err := s.roomAccess(ctx, room, sess.UserID, access.LevelEdit)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	blobKey, err := s.blobs.Put(ctx, input.Content, contentType)
	if err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}

	doc := store.Document{
		Name:        strings.TrimSpace(input.Name),
		OwnerID:     sess.UserID,
		RoomID:      input.RoomID,
		ContentType: contentType,
		SizeBytes:   int64(len(input.Content)),
		ContentHash: blobKey,
		BlobKey:     blobKey,
	}

	scope := version.Scope{OwnerID: sess.UserID, RoomID: input.RoomID}
	inserted, err := s.placeAndInsert(ctx, nil, scope, doc)
	if err != nil {
		return nil, err
	}

	s.indexDocument(inserted)
	return documentPayload(inserted), nil
}

type CreateRevisionInput struct {
	Name        string
	ContentType string
	Content     []byte
}

// CreateRevision adds the next revision under a parent. Whether it extends
// the branch or opens a new one is decided by the allocator from what already
// hangs off the parent.
func (s *Service) CreateRevision(ctx context.Context, sess Session, parentID, shareToken string, input CreateRevisionInput) (map[string]any, error) {
	if len(input.Content) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(input.Content)) > s.cfg.MaxUploadBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Document exceeds the upload limit", nil)
	}

	if err := s.requireAccess(ctx, sess.UserID, parentID, access.LevelEdit, shareToken); err != nil {
		return nil, err
	}

	parent, err := s.store.GetDocument(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = parent.Name
	}
	contentType := input.ContentType
	if contentType == "" {
		contentType = parent.ContentType
	}

	blobKey, err := s.blobs.Put(ctx, input.Content, contentType)
	if err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}

	doc := store.Document{
		Name:        name,
		OwnerID:     parent.OwnerID,
		RoomID:      parent.RoomID,
		ParentID:    &parent.ID,
		ContentType: contentType,
		SizeBytes:   int64(len(input.Content)),
		ContentHash: blobKey,
		BlobKey:     blobKey,
	}

	scope := version.Scope{OwnerID: parent.OwnerID, RoomID: parent.RoomID}
	inserted, err := s.placeAndInsert(ctx, parent, scope, doc)
	if err != nil {
		return nil, err
	}

	s.indexDocument(inserted)
	s.notifyRevision(ctx, sess, inserted)
	return documentPayload(inserted), nil
}

// placeAndInsert allocates a (version, forkPath) slot and inserts, treating
// the insert as a compare-and-swap: a uniqueness conflict means another
// writer took the slot, so allocation is redone against fresh state.
func (s *Service) placeAndInsert(ctx context.Context, parent *store.Document, scope version.Scope, doc store.Document) (store.Document, error) {
	for attempt := 0; attempt < insertAttempts; attempt++ {
		placement, err := s.alloc.AllocateNextVersion(ctx, parent, scope)
		if errors.Is(err, version.ErrAllocationConflict) {
			return store.Document{}, domainError(http.StatusConflict, "ALLOCATION_CONFLICT", "Concurrent uploads exhausted placement retries", nil)
		}
		if err != nil {
			return store.Document{}, err
		}

		doc.ID = util.NewID("doc")
		doc.Version = placement.Version
		doc.ForkPath = placement.ForkPath

		err = s.store.InsertDocument(ctx, doc)
		if err == nil {
			return doc, nil
		}
		if !store.IsUniqueViolation(err) {
			return store.Document{}, err
		}
	}
	return store.Document{}, domainError(http.StatusConflict, "ALLOCATION_CONFLICT", "Concurrent uploads exhausted placement retries", nil)
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	record := search.DocumentRecord{
		ID:          doc.ID,
		Name:        doc.Name,
		OwnerID:     doc.OwnerID,
		ForkPath:    doc.ForkPath,
		Version:     doc.Version,
		ContentType: doc.ContentType,
	}
	if doc.RoomID != nil {
		record.RoomID = *doc.RoomID
	}
	s.search.IndexDocument(record)
}

// notifyRevision feeds room members when someone else's revision lands in a
// shared room.
func (s *Service) notifyRevision(ctx context.Context, sess Session, doc store.Document) {
	if doc.RoomID == nil {
		return
	}
	members, err := s.store.ListRoomMembers(ctx, *doc.RoomID)
	if err != nil {
		return
	}
	payload := revisionAddedPayload{
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		AuthorName:   sess.UserName,
		Version:      doc.Version,
		ForkPath:     doc.ForkPath,
	}
	for _, member := range members {
		if member.UserID == sess.UserID {
			continue
		}
		s.recordActivity(ctx, member.UserID, activityRevisionAdded, payload)
	}
	if doc.OwnerID != sess.UserID {
		s.recordActivity(ctx, doc.OwnerID, activityRevisionAdded, payload)
	}
}

// GetDocumentMeta returns revision metadata. A share token may stand in for
// a session.
func (s *Service) GetDocumentMeta(ctx context.Context, sess Session, documentID, shareToken string) (map[string]any, error) {
	if err := s.requireAccess(ctx, sess.UserID, documentID, access.LevelRead, shareToken); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return documentPayload(*doc), nil
}

// DownloadDocument returns the revision and its payload bytes.
func (s *Service) DownloadDocument(ctx context.Context, sess Session, documentID, shareToken string) (*store.Document, []byte, error) {
	if err := s.requireAccess(ctx, sess.UserID, documentID, access.LevelRead, shareToken); err != nil {
		return nil, nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	data, err := s.blobs.Get(ctx, doc.BlobKey)
	if err != nil {
		return nil, nil, fmt.Errorf("load payload: %w", err)
	}
	return doc, data, nil
}

// ListDocuments returns the caller's loose documents: owned revisions that
// sit in no room.
func (s *Service) ListDocuments(ctx context.Context, sess Session) ([]map[string]any, error) {
	documents, err := s.store.ListLooseDocuments(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		payload = append(payload, documentPayload(doc))
	}
	return payload, nil
}

// ListRevisionHistory walks the parent chain from a revision back to its
// lineage root, newest first.
func (s *Service) ListRevisionHistory(ctx context.Context, sess Session, documentID, shareToken string) ([]map[string]any, error) {
	if err := s.requireAccess(ctx, sess.UserID, documentID, access.LevelRead, shareToken); err != nil {
		return nil, err
	}
	history, err := s.store.ListRevisionHistory(ctx, documentID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(history))
	for _, doc := range history {
		payload = append(payload, documentPayload(doc))
	}
	return payload, nil
}

// MoveDocument relocates a revision between rooms (or out of one). Moving
// into a room needs edit rights there.
func (s *Service) MoveDocument(ctx context.Context, sess Session, documentID string, roomID *string) (map[string]any, error) {
	if err := s.requireAccess(ctx, sess.UserID, documentID, access.LevelManage, ""); err != nil {
		return nil, err
	}

	if roomID != nil {
		room, err := s.store.GetRoom(ctx, *roomID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		if err != nil {
			return nil, err
		}
		allowed, err := s.roomAccess(ctx, room, sess.UserID, access.LevelEdit)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	if err := s.store.MoveDocument(ctx, documentID, roomID); err != nil {
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	s.indexDocument(*doc)
	return documentPayload(*doc), nil
}

// ArchiveDocument shelves a revision into the caller's archive room, creating
// the room on first use.
func (s *Service) ArchiveDocument(ctx context.Context, sess Session, documentID string) (map[string]any, error) {
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
	if doc.OwnerID != sess.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can archive", nil)
	}

	archive, err := s.store.EnsureArchiveRoom(ctx, sess.UserID, util.NewID("room"))
	if err != nil {
		return nil, fmt.Errorf("ensure archive room: %w", err)
	}

	if err := s.store.MoveDocument(ctx, documentID, &archive.ID); err != nil {
		return nil, err
	}

	doc.RoomID = &archive.ID
	s.indexDocument(*doc)
	return documentPayload(*doc), nil
}

// DeleteRevision removes one revision. Children are reparented onto the
// deleted revision's parent so the lineage stays connected, and the
// revision's share tokens die with it.
func (s *Service) DeleteRevision(ctx context.Context, sess Session, documentID string) error {
	if err := s.requireAccess(ctx, sess.UserID, documentID, access.LevelManage, ""); err != nil {
		return err
	}

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	// The payload stays in blob storage: content-addressed objects may be
	// shared by other revisions.
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	return nil
}
