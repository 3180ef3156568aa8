package dummydb

import (
	"sync"

	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
)

type (
	DB struct {
		user *userTable
		chat *chatTables
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	chatTables struct {
		sync.RWMutex
		rooms map[string]*chat.Room
		msgs  map[string][]chat.Message // by room id
	}
)

func Open() (*DB, error) {
	db := &DB{
		user: &userTable{table: make(map[string]*user.User)},
		chat: &chatTables{
			rooms: make(map[string]*chat.Room),
			msgs:  make(map[string][]chat.Message),
		},
	}
	return db, nil
}
