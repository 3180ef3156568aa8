package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
)

type chatRepository struct {
	db    *chatTables
	users *userTable
}

var _ chat.Repository = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db *DB) chat.Repository {
	return &chatRepository{db: db.chat, users: db.user}
}

// resolve fills MemberIDs' profiles; callers hold at least a read lock on db.
func (repo *chatRepository) resolve(room chat.Room) chat.Room {
	repo.users.RLock()
	defer repo.users.RUnlock()

	room.Members = make([]user.User, 0, len(room.MemberIDs))
	for _, id := range room.MemberIDs {
		if usr, ok := repo.users.table[id]; ok {
			room.Members = append(room.Members, *usr)
		}
	}
	return room
}

func (repo *chatRepository) QueryUserRooms(ctx context.Context, userID string) ([]chat.Room, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var rooms []chat.Room
	for _, room := range repo.db.rooms {
		if room.HasMember(userID) {
			rooms = append(rooms, repo.resolve(*room))
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt) })
	return rooms, nil
}

func (repo *chatRepository) GetRoom(ctx context.Context, roomID string) (chat.Room, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if room, ok := repo.db.rooms[roomID]; ok {
		return repo.resolve(*room), nil
	}
	return chat.Room{}, chat.ErrRoomNotFound
}

func (repo *chatRepository) GetDirectRoomByKey(ctx context.Context, key string) (chat.Room, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, room := range repo.db.rooms {
		if room.Kind == chat.RoomDirect && room.DirectKey == key {
			return repo.resolve(*room), nil
		}
	}
	return chat.Room{}, chat.ErrRoomNotFound
}

func (repo *chatRepository) CreateRoom(ctx context.Context, room chat.Room) (chat.Room, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.DirectKey != "" {
		for _, existing := range repo.db.rooms {
			if existing.DirectKey == room.DirectKey {
				return chat.Room{}, errors.New("direct room already exists")
			}
		}
	}
	stored := room
	stored.Members = nil
	repo.db.rooms[room.ID] = &stored
	return room, nil
}

func (repo *chatRepository) QueryMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]chat.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var window []chat.Message
	for _, msg := range repo.db.msgs[roomID] {
		if !before.IsZero() && !msg.CreatedAt.Before(before) {
			continue
		}
		window = append(window, msg)
	}
	if len(window) > limit {
		window = window[len(window)-limit:]
	}

	repo.users.RLock()
	defer repo.users.RUnlock()
	out := append([]chat.Message(nil), window...)
	for i, msg := range out {
		if usr, ok := repo.users.table[msg.SenderID]; ok {
			out[i].SenderName = usr.Label()
		}
	}
	return out, nil
}

func (repo *chatRepository) InsertMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rooms[msg.RoomID]; !ok {
		return chat.Message{}, chat.ErrRoomNotFound
	}

	msg.ID = uuid.New().String()
	msg.LocalID = ""
	msg.State = chat.MessageSent
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	msgs := append(repo.db.msgs[msg.RoomID], msg)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	repo.db.msgs[msg.RoomID] = msgs
	return msg, nil
}

func (repo *chatRepository) SetRoomLastMessage(ctx context.Context, roomID string, pv chat.MessagePreview) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	room, ok := repo.db.rooms[roomID]
	if !ok {
		return chat.ErrRoomNotFound
	}
	room.LastMessage = &pv
	return nil
}

func (repo *chatRepository) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	room, ok := repo.db.rooms[roomID]
	if !ok {
		return chat.ErrRoomNotFound
	}
	if at.After(room.UpdatedAt) {
		room.UpdatedAt = at
	}
	return nil
}
