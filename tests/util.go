package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser(): %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

func CreateRoom(
	t *testing.T,
	repo chat.Repository,
	name string,
	kind chat.RoomKind,
	members []user.User,
	updatedAt ...time.Time,
) chat.Room {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(updatedAt) > 0 {
		tstamp = updatedAt[0].UTC()
	}
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID)
	}
	room := chat.Room{
		Name:      name,
		Kind:      kind,
		MemberIDs: memberIDs,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if kind == chat.RoomDirect && len(members) == 2 {
		room.DirectKey = chat.DirectKey(members[0].ID, members[1].ID)
	}
	room, err := repo.CreateRoom(context.Background(), room)
	if err != nil {
		t.Fatalf("CreateRoom(): %v", err)
	}
	return room
}

func InsertMessage(
	t *testing.T,
	repo chat.Repository,
	roomID string,
	sender user.User,
	content string,
	createdAt ...time.Time,
) chat.Message {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	msg, err := repo.InsertMessage(context.Background(), chat.Message{
		RoomID:    roomID,
		SenderID:  sender.ID,
		Content:   content,
		State:     chat.MessageSent,
		CreatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("InsertMessage(): %v", err)
	}
	msg.SenderName = sender.Label()
	return msg
}
