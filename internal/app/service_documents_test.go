package app

import (
	"context"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"vlado/api/internal/store"
)

func TestUploadDocumentStartsLineage(t *testing.T) {
	var inserted *store.Document
	fake := &fakeStore{
		insertDocumentFn: func(_ context.Context, doc store.Document) error {
			inserted = &doc
			return nil
		},
	}
	svc := newTestService(fake)

	payload, err := svc.UploadDocument(context.Background(), Session{UserID: "user-1"}, UploadDocumentInput{
		Name:    "notes.txt",
		Content: []byte("hello"),
	})
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if inserted == nil {
		t.Fatal("document was not inserted")
	}
	if inserted.Version != 1 || inserted.ForkPath != "1" {
		t.Fatalf("expected placement {1, 1}, got {%d, %s}", inserted.Version, inserted.ForkPath)
	}
	if inserted.OwnerID != "user-1" {
		t.Fatalf("unexpected owner %q", inserted.OwnerID)
	}
	if inserted.BlobKey == "" || inserted.ContentHash != inserted.BlobKey {
		t.Fatalf("content addressing broken: hash=%q blob=%q", inserted.ContentHash, inserted.BlobKey)
	}
	if payload["forkPath"] != "1" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestUploadDocumentValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})
	sess := Session{UserID: "user-1"}

	_, err := svc.UploadDocument(context.Background(), sess, UploadDocumentInput{Content: []byte("x")})
	domainStatus(t, err, http.StatusUnprocessableEntity)

	_, err = svc.UploadDocument(context.Background(), sess, UploadDocumentInput{Name: "a"})
	domainStatus(t, err, http.StatusUnprocessableEntity)

	big := make([]byte, (1<<20)+1)
	_, err = svc.UploadDocument(context.Background(), sess, UploadDocumentInput{Name: "a", Content: big})
	domainStatus(t, err, http.StatusRequestEntityTooLarge)
}

func TestUploadDocumentIntoRoomNeedsEdit(t *testing.T) {
	roomID := "room-1"
	fake := &fakeStore{
		getRoomFn: func(_ context.Context, id string) (store.Room, error) {
			return store.Room{ID: id, OwnerID: "owner-1"}, nil
		},
		getRoomMemberFn: func(_ context.Context, _, userID string) (*store.RoomMember, error) {
			return &store.RoomMember{UserID: userID, AccessLevel: "read"}, nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.UploadDocument(context.Background(), Session{UserID: "reader-1"}, UploadDocumentInput{
		Name:    "notes.txt",
		Content: []byte("hello"),
		RoomID:  &roomID,
	})
	domainStatus(t, err, http.StatusForbidden)
}

func TestCreateRevisionExtendsBranch(t *testing.T) {
	parent := &store.Document{
		ID: "doc-1", Name: "notes.txt", OwnerID: "user-1",
		Version: 2, ForkPath: "1", ContentType: "text/plain",
	}
	var inserted *store.Document
	fake := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (*store.Document, error) {
			if id == "doc-1" {
				return parent, nil
			}
			return nil, nil
		},
		insertDocumentFn: func(_ context.Context, doc store.Document) error {
			inserted = &doc
			return nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.CreateRevision(context.Background(), Session{UserID: "user-1"}, "doc-1", "", CreateRevisionInput{
		Content: []byte("v3"),
	})
	if err != nil {
		t.Fatalf("CreateRevision: %v", err)
	}
	if inserted.Version != 3 || inserted.ForkPath != "1" {
		t.Fatalf("expected linear {3, 1}, got {%d, %s}", inserted.Version, inserted.ForkPath)
	}
	if inserted.ParentID == nil || *inserted.ParentID != "doc-1" {
		t.Fatal("parent link missing")
	}
	if inserted.Name != "notes.txt" || inserted.ContentType != "text/plain" {
		t.Fatalf("parent defaults not inherited: %+v", inserted)
	}
}

func TestCreateRevisionForksWhenBranchIsTaken(t *testing.T) {
	parent := &store.Document{
		ID: "doc-1", Name: "notes.txt", OwnerID: "user-1",
		Version: 2, ForkPath: "1",
	}
	var inserted *store.Document
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (*store.Document, error) {
			return parent, nil
		},
		listDocumentChildrenFn: func(context.Context, string) ([]store.Document, error) {
			return []store.Document{{ID: "doc-2", Version: 3, ForkPath: "1"}}, nil
		},
		insertDocumentFn: func(_ context.Context, doc store.Document) error {
			inserted = &doc
			return nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.CreateRevision(context.Background(), Session{UserID: "user-1"}, "doc-1", "", CreateRevisionInput{
		Content: []byte("fork"),
	})
	if err != nil {
		t.Fatalf("CreateRevision: %v", err)
	}
	if inserted.Version != 3 || inserted.ForkPath != "1.1" {
		t.Fatalf("expected fork {3, 1.1}, got {%d, %s}", inserted.Version, inserted.ForkPath)
	}
}

func TestCreateRevisionRetriesOnPlacementRace(t *testing.T) {
	parent := &store.Document{
		ID: "doc-1", Name: "notes.txt", OwnerID: "user-1",
		Version: 1, ForkPath: "1",
	}
	attempts := 0
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (*store.Document, error) {
			return parent, nil
		},
		insertDocumentFn: func(context.Context, store.Document) error {
			attempts++
			if attempts == 1 {
				return &pgconn.PgError{Code: "23505"}
			}
			return nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.CreateRevision(context.Background(), Session{UserID: "user-1"}, "doc-1", "", CreateRevisionInput{
		Content: []byte("racy"),
	})
	if err != nil {
		t.Fatalf("CreateRevision: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 insert attempts, got %d", attempts)
	}
}

func TestCreateRevisionGivesUpAfterRepeatedConflicts(t *testing.T) {
	parent := &store.Document{
		ID: "doc-1", OwnerID: "user-1", Version: 1, ForkPath: "1",
	}
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (*store.Document, error) {
			return parent, nil
		},
		insertDocumentFn: func(context.Context, store.Document) error {
			return &pgconn.PgError{Code: "23505"}
		},
	}
	svc := newTestService(fake)

	_, err := svc.CreateRevision(context.Background(), Session{UserID: "user-1"}, "doc-1", "", CreateRevisionInput{
		Content: []byte("racy"),
	})
	domainErr := domainStatus(t, err, http.StatusConflict)
	if domainErr.Code != "ALLOCATION_CONFLICT" {
		t.Fatalf("unexpected code %q", domainErr.Code)
	}
}

func TestCreateRevisionDeniedWithoutEdit(t *testing.T) {
	parent := &store.Document{ID: "doc-1", OwnerID: "owner-1", Version: 1, ForkPath: "1"}
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (*store.Document, error) {
			return parent, nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.CreateRevision(context.Background(), Session{UserID: "stranger-1"}, "doc-1", "", CreateRevisionInput{
		Content: []byte("nope"),
	})
	domainStatus(t, err, http.StatusForbidden)
}

func TestDownloadDocumentRoundTrip(t *testing.T) {
	fake := &fakeStore{}
	svc := newTestService(fake)
	sess := Session{UserID: "user-1"}

	var uploaded *store.Document
	fake.insertDocumentFn = func(_ context.Context, doc store.Document) error {
		uploaded = &doc
		return nil
	}
	_, err := svc.UploadDocument(context.Background(), sess, UploadDocumentInput{
		Name:        "notes.txt",
		ContentType: "text/plain",
		Content:     []byte("round trip"),
	})
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	fake.getDocumentFn = func(context.Context, string) (*store.Document, error) {
		return uploaded, nil
	}
	doc, data, err := svc.DownloadDocument(context.Background(), sess, uploaded.ID, "")
	if err != nil {
		t.Fatalf("DownloadDocument: %v", err)
	}
	if string(data) != "round trip" {
		t.Fatalf("unexpected payload %q", data)
	}
	if doc.ContentType != "text/plain" {
		t.Fatalf("unexpected content type %q", doc.ContentType)
	}
}

func TestDownloadWithUnboundShareToken(t *testing.T) {
	doc := &store.Document{
		ID: "doc-1", OwnerID: "owner-1", Version: 1, ForkPath: "1",
		BlobKey: "missing",
	}
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (*store.Document, error) {
			return doc, nil
		},
		getShareTokenFn: func(_ context.Context, tokenValue, documentID string) (*store.ShareToken, error) {
			if tokenValue == "secret" && documentID == "doc-1" {
				return &store.ShareToken{Token: tokenValue, DocumentID: documentID, AccessLevel: "read"}, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(fake)
	blobs := svc.blobs.(*fakeBlobs)
	blobs.objects["missing"] = []byte("shared bytes")

	// Anonymous caller with a valid token.
	_, data, err := svc.DownloadDocument(context.Background(), Session{}, "doc-1", "secret")
	if err != nil {
		t.Fatalf("DownloadDocument: %v", err)
	}
	if string(data) != "shared bytes" {
		t.Fatalf("unexpected payload %q", data)
	}

	// Anonymous caller without a token is refused.
	_, _, err = svc.DownloadDocument(context.Background(), Session{}, "doc-1", "")
	domainStatus(t, err, http.StatusForbidden)
}

func TestMoveDocumentChecksTargetRoom(t *testing.T) {
	doc := &store.Document{ID: "doc-1", OwnerID: "user-1", Version: 1, ForkPath: "1"}
	targetID := "room-2"
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (*store.Document, error) {
			return doc, nil
		},
		getRoomFn: func(_ context.Context, id string) (store.Room, error) {
			return store.Room{ID: id, OwnerID: "someone-else"}, nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.MoveDocument(context.Background(), Session{UserID: "user-1"}, "doc-1", &targetID)
	domainStatus(t, err, http.StatusForbidden)
}

func TestArchiveDocumentUsesArchiveRoom(t *testing.T) {
	doc := &store.Document{ID: "doc-1", OwnerID: "user-1", Version: 1, ForkPath: "1"}
	var movedTo *string
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (*store.Document, error) {
			return doc, nil
		},
		ensureArchiveRoomFn: func(_ context.Context, ownerID, candidateID string) (store.Room, error) {
			return store.Room{ID: "archive-1", OwnerID: ownerID, IsArchive: true}, nil
		},
		moveDocumentFn: func(_ context.Context, _ string, roomID *string) error {
			movedTo = roomID
			return nil
		},
	}
	svc := newTestService(fake)

	payload, err := svc.ArchiveDocument(context.Background(), Session{UserID: "user-1"}, "doc-1")
	if err != nil {
		t.Fatalf("ArchiveDocument: %v", err)
	}
	if movedTo == nil || *movedTo != "archive-1" {
		t.Fatalf("expected move into archive-1, got %v", movedTo)
	}
	if payload["roomId"] != "archive-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestArchiveDocumentOwnerOnly(t *testing.T) {
	doc := &store.Document{ID: "doc-1", OwnerID: "owner-1", RoomID: ptr("room-1"), Version: 1, ForkPath: "1"}
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (*store.Document, error) {
			return doc, nil
		},
		getRoomMemberFn: func(_ context.Context, _, userID string) (*store.RoomMember, error) {
			return &store.RoomMember{UserID: userID, AccessLevel: "manage"}, nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.ArchiveDocument(context.Background(), Session{UserID: "manager-1"}, "doc-1")
	domainStatus(t, err, http.StatusForbidden)
}

func TestDeleteRevisionRequiresManage(t *testing.T) {
	doc := &store.Document{ID: "doc-1", OwnerID: "owner-1", RoomID: ptr("room-1"), Version: 1, ForkPath: "1"}
	deleted := false
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (*store.Document, error) {
			return doc, nil
		},
		getRoomMemberFn: func(_ context.Context, _, userID string) (*store.RoomMember, error) {
			return &store.RoomMember{UserID: userID, AccessLevel: "edit"}, nil
		},
		deleteDocumentFn: func(context.Context, string) error {
			deleted = true
			return nil
		},
	}
	svc := newTestService(fake)

	err := svc.DeleteRevision(context.Background(), Session{UserID: "editor-1"}, "doc-1")
	domainStatus(t, err, http.StatusForbidden)
	if deleted {
		t.Fatal("document was deleted despite the denial")
	}

	if err := svc.DeleteRevision(context.Background(), Session{UserID: "owner-1"}, "doc-1"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if !deleted {
		t.Fatal("owner delete did not reach the store")
	}
}

func ptr(s string) *string { return &s }
