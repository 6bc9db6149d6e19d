package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ---------------------------------------------------------------------------
// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(
		&user.ID,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.VerificationExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(
		&user.ID,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.VerificationExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify user email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify user email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchUsersByEmail(ctx context.Context, query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email
		FROM users
		WHERE email ILIKE '%' || $1 || '%' OR display_name ILIKE '%' || $1 || '%'
		ORDER BY email ASC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Rooms

func (s *PostgresStore) InsertRoom(ctx context.Context, room Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, owner_id, is_archive)
		VALUES ($1, $2, $3, $4)
	`, room.ID, room.Name, room.OwnerID, room.IsArchive)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var item Room
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, is_archive, created_at, updated_at
		FROM rooms
		WHERE id=$1
	`, roomID).Scan(&item.ID, &item.Name, &item.OwnerID, &item.IsArchive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Room{}, err
	}
	return item, nil
}

// ListRooms returns every room the user owns or is a member of.
func (s *PostgresStore) ListRooms(ctx context.Context, userID string) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT r.id, r.name, r.owner_id, r.is_archive, r.created_at, r.updated_at
		FROM rooms r
		LEFT JOIN room_members rm ON rm.room_id = r.id
		WHERE r.owner_id=$1 OR rm.user_id=$1
		ORDER BY r.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	items := make([]Room, 0)
	for rows.Next() {
		var item Room
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerID, &item.IsArchive, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateRoomName(ctx context.Context, roomID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET name=$2, updated_at=NOW() WHERE id=$1
	`, roomID, name)
	if err != nil {
		return fmt.Errorf("update room name: %w", err)
	}
	return nil
}

// EnsureArchiveRoom returns the owner's archive room, creating it with
// candidateID on first use. A partial unique index on (owner_id) WHERE
// is_archive guarantees at most one per owner under concurrent calls.
func (s *PostgresStore) EnsureArchiveRoom(ctx context.Context, ownerID, candidateID string) (Room, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, owner_id, is_archive)
		VALUES ($1, 'Archive', $2, TRUE)
		ON CONFLICT DO NOTHING
	`, candidateID, ownerID)
	if err != nil {
		return Room{}, fmt.Errorf("ensure archive room: %w", err)
	}

	var item Room
	err = s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, is_archive, created_at, updated_at
		FROM rooms
		WHERE owner_id=$1 AND is_archive
	`, ownerID).Scan(&item.ID, &item.Name, &item.OwnerID, &item.IsArchive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Room{}, fmt.Errorf("lookup archive room: %w", err)
	}
	return item, nil
}

// DeleteRoomCascade removes a room in one transaction: share tokens on the
// room's documents are revoked (except those the acting owner created), the
// documents are detached from the room, and membership rows go with the room.
func (s *PostgresStore) DeleteRoomCascade(ctx context.Context, roomID, actingUserID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete room tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE share_tokens
		SET revoked_at=NOW()
		WHERE revoked_at IS NULL
		  AND created_by <> $2
		  AND document_id IN (SELECT id FROM documents WHERE room_id=$1)
	`, roomID, actingUserID); err != nil {
		return fmt.Errorf("revoke room tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE documents SET room_id=NULL WHERE room_id=$1`, roomID); err != nil {
		return fmt.Errorf("detach room documents: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id=$1`, roomID); err != nil {
		return fmt.Errorf("delete room members: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id=$1`, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete room tx: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Room membership

func (s *PostgresStore) UpsertRoomMember(ctx context.Context, member RoomMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id, access_level, invited_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO UPDATE SET access_level=EXCLUDED.access_level
	`, member.RoomID, member.UserID, member.AccessLevel, member.InvitedBy)
	if err != nil {
		return fmt.Errorf("upsert room member: %w", err)
	}
	return nil
}

// GetRoomMember returns nil when the user has no grant in the room.
func (s *PostgresStore) GetRoomMember(ctx context.Context, roomID, userID string) (*RoomMember, error) {
	var item RoomMember
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, user_id, access_level, invited_by, created_at
		FROM room_members
		WHERE room_id=$1 AND user_id=$2
	`, roomID, userID).Scan(&item.RoomID, &item.UserID, &item.AccessLevel, &item.InvitedBy, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room member: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rm.room_id, rm.user_id, rm.access_level, rm.invited_by, rm.created_at, u.email, u.display_name
		FROM room_members rm
		JOIN users u ON u.id = rm.user_id
		WHERE rm.room_id=$1
		ORDER BY rm.created_at ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}
	defer rows.Close()

	items := make([]RoomMember, 0)
	for rows.Next() {
		var item RoomMember
		if err := rows.Scan(
			&item.RoomID,
			&item.UserID,
			&item.AccessLevel,
			&item.InvitedBy,
			&item.CreatedAt,
			&item.UserEmail,
			&item.UserName,
		); err != nil {
			return nil, fmt.Errorf("scan room member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM room_members WHERE room_id=$1 AND user_id=$2
	`, roomID, userID)
	if err != nil {
		return false, fmt.Errorf("delete room member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete room member rows: %w", err)
	}
	return affected > 0, nil
}

// ---------------------------------------------------------------------------
// Documents

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, owner_id, room_id, parent_id, version, fork_path, content_type, size_bytes, content_hash, blob_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.Name, item.OwnerID, item.RoomID, item.ParentID, item.Version, item.ForkPath, item.ContentType, item.SizeBytes, item.ContentHash, item.BlobKey)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns nil without error when no such document exists.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, room_id, parent_id, version, fork_path, content_type, size_bytes, content_hash, blob_key, created_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(
		&item.ID,
		&item.Name,
		&item.OwnerID,
		&item.RoomID,
		&item.ParentID,
		&item.Version,
		&item.ForkPath,
		&item.ContentType,
		&item.SizeBytes,
		&item.ContentHash,
		&item.BlobKey,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListDocumentChildren returns every revision whose immediate parent is parentID.
func (s *PostgresStore) ListDocumentChildren(ctx context.Context, parentID string) ([]Document, error) {
	return s.queryDocuments(ctx, `
		SELECT id, name, owner_id, room_id, parent_id, version, fork_path, content_type, size_bytes, content_hash, blob_key, created_at
		FROM documents
		WHERE parent_id=$1
		ORDER BY created_at ASC
	`, parentID)
}

// ListRootDocuments returns lineage roots in the (owner, room) scope: no
// parent and an undotted fork path. A nil roomID scopes to loose documents.
func (s *PostgresStore) ListRootDocuments(ctx context.Context, ownerID string, roomID *string) ([]Document, error) {
	return s.queryDocuments(ctx, `
		SELECT id, name, owner_id, room_id, parent_id, version, fork_path, content_type, size_bytes, content_hash, blob_key, created_at
		FROM documents
		WHERE owner_id=$1
		  AND room_id IS NOT DISTINCT FROM $2
		  AND parent_id IS NULL
		  AND POSITION('.' IN fork_path) = 0
		ORDER BY created_at ASC
	`, ownerID, roomID)
}

// RootForkPathExists is the uniqueness probe for root allocation retries.
func (s *PostgresStore) RootForkPathExists(ctx context.Context, ownerID string, roomID *string, forkPath string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM documents
			WHERE owner_id=$1
			  AND room_id IS NOT DISTINCT FROM $2
			  AND parent_id IS NULL
			  AND fork_path=$3
		)
	`, ownerID, roomID, forkPath).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check root fork path: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListRoomDocuments(ctx context.Context, roomID string) ([]Document, error) {
	return s.queryDocuments(ctx, `
		SELECT id, name, owner_id, room_id, parent_id, version, fork_path, content_type, size_bytes, content_hash, blob_key, created_at
		FROM documents
		WHERE room_id=$1
		ORDER BY created_at DESC
	`, roomID)
}

func (s *PostgresStore) ListLooseDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	return s.queryDocuments(ctx, `
		SELECT id, name, owner_id, room_id, parent_id, version, fork_path, content_type, size_bytes, content_hash, blob_key, created_at
		FROM documents
		WHERE owner_id=$1 AND room_id IS NULL
		ORDER BY created_at DESC
	`, ownerID)
}

// ListRevisionHistory walks parent links from the revision to its lineage
// root, newest first.
func (s *PostgresStore) ListRevisionHistory(ctx context.Context, documentID string) ([]Document, error) {
	return s.queryDocuments(ctx, `
		WITH RECURSIVE lineage AS (
			SELECT d.*, 0 AS depth FROM documents d WHERE d.id=$1
			UNION ALL
			SELECT p.*, lineage.depth + 1 FROM documents p
			JOIN lineage ON lineage.parent_id = p.id
		)
		SELECT id, name, owner_id, room_id, parent_id, version, fork_path, content_type, size_bytes, content_hash, blob_key, created_at
		FROM lineage
		ORDER BY depth ASC
	`, documentID)
}

func (s *PostgresStore) MoveDocument(ctx context.Context, documentID string, roomID *string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET room_id=$2 WHERE id=$1`, documentID, roomID)
	if err != nil {
		return fmt.Errorf("move document: %w", err)
	}
	return nil
}

// DeleteDocument removes a revision and reparents its children onto the
// deleted revision's parent so the rest of the lineage stays traversable.
func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET parent_id=(SELECT parent_id FROM documents WHERE id=$1)
		WHERE parent_id=$1
	`, documentID); err != nil {
		return fmt.Errorf("reparent children: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE share_tokens SET revoked_at=NOW() WHERE document_id=$1 AND revoked_at IS NULL
	`, documentID); err != nil {
		return fmt.Errorf("revoke document tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete document tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.OwnerID,
			&item.RoomID,
			&item.ParentID,
			&item.Version,
			&item.ForkPath,
			&item.ContentType,
			&item.SizeBytes,
			&item.ContentHash,
			&item.BlobKey,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Share tokens

func (s *PostgresStore) InsertShareToken(ctx context.Context, token ShareToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO share_tokens (id, token, document_id, user_id, access_level, created_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, token.ID, token.Token, token.DocumentID, token.UserID, token.AccessLevel, token.CreatedBy, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert share token: %w", err)
	}
	return nil
}

// GetShareToken returns nil when no live token matches the literal value and
// document binding. Expired and revoked tokens never match.
func (s *PostgresStore) GetShareToken(ctx context.Context, tokenValue, documentID string) (*ShareToken, error) {
	var item ShareToken
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token, document_id, user_id, access_level, created_by, expires_at, created_at, revoked_at
		FROM share_tokens
		WHERE token=$1 AND document_id=$2 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenValue, documentID).Scan(
		&item.ID,
		&item.Token,
		&item.DocumentID,
		&item.UserID,
		&item.AccessLevel,
		&item.CreatedBy,
		&item.ExpiresAt,
		&item.CreatedAt,
		&item.RevokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share token: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListShareTokens(ctx context.Context, createdBy string) ([]ShareToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.token, st.document_id, st.user_id, st.access_level, st.created_by, st.expires_at, st.created_at, st.revoked_at, d.name
		FROM share_tokens st
		JOIN documents d ON d.id = st.document_id
		WHERE st.created_by=$1
		ORDER BY st.created_at DESC
	`, createdBy)
	if err != nil {
		return nil, fmt.Errorf("list share tokens: %w", err)
	}
	defer rows.Close()

	items := make([]ShareToken, 0)
	for rows.Next() {
		var item ShareToken
		if err := rows.Scan(
			&item.ID,
			&item.Token,
			&item.DocumentID,
			&item.UserID,
			&item.AccessLevel,
			&item.CreatedBy,
			&item.ExpiresAt,
			&item.CreatedAt,
			&item.RevokedAt,
			&item.DocumentName,
		); err != nil {
			return nil, fmt.Errorf("scan share token: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share tokens: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RevokeShareToken(ctx context.Context, tokenID, createdBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE share_tokens
		SET revoked_at=NOW()
		WHERE id=$1 AND created_by=$2 AND revoked_at IS NULL
	`, tokenID, createdBy)
	if err != nil {
		return false, fmt.Errorf("revoke share token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke share token rows: %w", err)
	}
	return affected > 0, nil
}

// ---------------------------------------------------------------------------
// Contacts

func (s *PostgresStore) InsertContact(ctx context.Context, userID, contactID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (user_id, contact_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, contact_id) DO NOTHING
	`, userID, contactID)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteContact(ctx context.Context, userID, contactID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM contacts WHERE user_id=$1 AND contact_id=$2
	`, userID, contactID)
	if err != nil {
		return false, fmt.Errorf("delete contact: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete contact rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, userID string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.user_id, c.contact_id, c.created_at, u.email, u.display_name
		FROM contacts c
		JOIN users u ON u.id = c.contact_id
		WHERE c.user_id=$1
		ORDER BY u.display_name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	items := make([]Contact, 0)
	for rows.Next() {
		var item Contact
		if err := rows.Scan(&item.UserID, &item.ContactID, &item.CreatedAt, &item.ContactEmail, &item.ContactName); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Activity feed

func (s *PostgresStore) InsertActivity(ctx context.Context, activity Activity) error {
	payload := activity.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (user_id, kind, payload)
		VALUES ($1, $2, $3::jsonb)
	`, activity.UserID, activity.Kind, string(payload))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, userID string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, payload, created_at, read_at
		FROM activities
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var item Activity
		var payloadRaw []byte
		if err := rows.Scan(&item.ID, &item.UserID, &item.Kind, &payloadRaw, &item.CreatedAt, &item.ReadAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		item.Payload = payloadRaw
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkActivitiesRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE activities SET read_at=NOW() WHERE user_id=$1 AND read_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("mark activities read: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
