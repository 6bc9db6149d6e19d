package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vlado/api/internal/access"
	"vlado/api/internal/store"
	"vlado/api/internal/util"
)

func roomPayload(room store.Room) map[string]any {
	return map[string]any{
		"id":        room.ID,
		"name":      room.Name,
		"ownerId":   room.OwnerID,
		"isArchive": room.IsArchive,
		"createdAt": room.CreatedAt,
		"updatedAt": room.UpdatedAt,
	}
}

func memberPayload(member store.RoomMember) map[string]any {
	return map[string]any{
		"userId":      member.UserID,
		"userName":    member.UserName,
		"userEmail":   member.UserEmail,
		"accessLevel": member.AccessLevel,
		"invitedBy":   member.InvitedBy,
		"joinedAt":    member.CreatedAt,
	}
}

func (s *Service) CreateRoom(ctx context.Context, sess Session, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	room := store.Room{
		ID:      util.NewID("room"),
		Name:    name,
		OwnerID: sess.UserID,
	}
	if err := s.store.InsertRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return roomPayload(room), nil
}

func (s *Service) ListRooms(ctx context.Context, sess Session) ([]map[string]any, error) {
	rooms, err := s.store.ListRooms(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(rooms))
	for _, room := range rooms {
		payload = append(payload, roomPayload(room))
	}
	return payload, nil
}

func (s *Service) GetRoom(ctx context.Context, sess Session, roomID string) (map[string]any, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err != nil {
		return nil, err
	}

	allowed, err := s.roomAccess(ctx, room, sess.UserID, access.LevelRead)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	members, err := s.store.ListRoomMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	memberList := make([]map[string]any, 0, len(members))
	for _, member := range members {
		memberList = append(memberList, memberPayload(member))
	}

	payload := roomPayload(room)
	payload["members"] = memberList
	return payload, nil
}

// RenameRoom requires manage rights; archive rooms keep their name.
func (s *Service) RenameRoom(ctx context.Context, sess Session, roomID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err != nil {
		return nil, err
	}
	if room.IsArchive {
		return nil, domainError(http.StatusConflict, "ARCHIVE_IMMUTABLE", "The archive room cannot be renamed", nil)
	}

	allowed, err := s.roomAccess(ctx, room, sess.UserID, access.LevelManage)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	if err := s.store.UpdateRoomName(ctx, roomID, name); err != nil {
		return nil, err
	}
	room.Name = name
	return roomPayload(room), nil
}

// DeleteRoom is owner-only. Documents in the room are detached rather than
// destroyed, and share tokens minted by others for those documents die with
// the room.
func (s *Service) DeleteRoom(ctx context.Context, sess Session, roomID string) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err != nil {
		return err
	}
	if room.OwnerID != sess.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if room.IsArchive {
		return domainError(http.StatusConflict, "ARCHIVE_IMMUTABLE", "The archive room cannot be deleted", nil)
	}

	members, err := s.store.ListRoomMembers(ctx, room.ID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteRoomCascade(ctx, roomID, sess.UserID); err != nil {
		return err
	}

	for _, member := range members {
		s.recordActivity(ctx, member.UserID, activityRoomRemoved, roomRemovedPayload{
			RoomID:   room.ID,
			RoomName: room.Name,
		})
	}
	return nil
}

// InviteToRoom adds or updates a member by email and notifies them.
func (s *Service) InviteToRoom(ctx context.Context, sess Session, roomID, userEmail, level string) (map[string]any, error) {
	userEmail = strings.TrimSpace(userEmail)
	if userEmail == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required", nil)
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err != nil {
		return nil, err
	}
	if room.IsArchive {
		return nil, domainError(http.StatusConflict, "ARCHIVE_IMMUTABLE", "The archive room has no members", nil)
	}

	allowed, err := s.roomAccess(ctx, room, sess.UserID, access.LevelManage)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	invitee, err := s.store.GetUserByEmail(ctx, userEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account with that email", nil)
	}
	if err != nil {
		return nil, err
	}
	if invitee.ID == room.OwnerID {
		return nil, domainError(http.StatusConflict, "ALREADY_OWNER", "The owner is not a member", nil)
	}

	member := store.RoomMember{
		RoomID:      room.ID,
		UserID:      invitee.ID,
		AccessLevel: string(access.Normalize(level)),
		InvitedBy:   sess.UserID,
	}
	if err := s.store.UpsertRoomMember(ctx, member); err != nil {
		return nil, err
	}

	// Inviter and invitee become contacts both ways so future invites can
	// autocomplete.
	_ = s.store.InsertContact(ctx, sess.UserID, invitee.ID)
	_ = s.store.InsertContact(ctx, invitee.ID, sess.UserID)

	s.recordActivity(ctx, invitee.ID, activityRoomInvite, roomInvitePayload{
		RoomID:      room.ID,
		RoomName:    room.Name,
		InviterName: sess.UserName,
		AccessLevel: member.AccessLevel,
	})

	if s.SMTPConfigured() {
		roomURL := fmt.Sprintf("%s/rooms/%s", s.cfg.AppBaseURL, room.ID)
		go func() {
			_ = s.mail.SendRoomInvitationEmail(invitee.Email, invitee.DisplayName, sess.UserName, room.Name, member.AccessLevel, roomURL)
		}()
	}

	member.UserEmail = invitee.Email
	member.UserName = invitee.DisplayName
	return memberPayload(member), nil
}

// RemoveRoomMember removes a member. Managers can remove others; any member
// can remove themselves (leave).
func (s *Service) RemoveRoomMember(ctx context.Context, sess Session, roomID, userID string) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err != nil {
		return err
	}

	if userID != sess.UserID {
		allowed, err := s.roomAccess(ctx, room, sess.UserID, access.LevelManage)
		if err != nil {
			return err
		}
		if !allowed {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	removed, err := s.store.DeleteRoomMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not a member", nil)
	}

	if userID != sess.UserID {
		s.recordActivity(ctx, userID, activityRoomRemoved, roomRemovedPayload{
			RoomID:   room.ID,
			RoomName: room.Name,
		})
	}
	return nil
}

func (s *Service) ListRoomDocuments(ctx context.Context, sess Session, roomID string) ([]map[string]any, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err != nil {
		return nil, err
	}

	allowed, err := s.roomAccess(ctx, room, sess.UserID, access.LevelRead)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	documents, err := s.store.ListRoomDocuments(ctx, roomID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		payload = append(payload, documentPayload(doc))
	}
	return payload, nil
}
