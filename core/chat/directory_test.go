package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/darasahq/darasa/core/user"
)

func TestRoomDisplayName(t *testing.T) {
	alice := user.User{ID: "u1", Name: "Alice A"}
	bob := user.User{ID: "u2", Name: "Bob B"}
	carl := user.User{ID: "u3", Email: "carl@test.cd"} // no name set

	tests := []struct {
		name     string
		room     Room
		viewerID string
		want     string
	}{
		{"explicit name wins", Room{Name: "Math 101", Members: []user.User{alice, bob}}, "u1", "Math 101"},
		{"direct room shows the other member", Room{Kind: RoomDirect, Members: []user.User{alice, bob}}, "u1", "Bob B"},
		{"group room joins the others", Room{Members: []user.User{alice, bob, carl}}, "u2", "Alice A, carl@test.cd"},
		{"email fallback when no name", Room{Members: []user.User{alice, carl}}, "u1", "carl@test.cd"},
		{"no members", Room{}, "u1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.room.DisplayName(tt.viewerID))
		})
	}
}

func TestFilterRooms(t *testing.T) {
	alice := user.User{ID: "u1", Name: "Alice A"}
	bob := user.User{ID: "u2", Name: "Bob B"}
	rooms := []Room{
		{ID: "r1", Name: "Math 101"},
		{ID: "r2", Name: "History"},
		{ID: "r3", Kind: RoomDirect, Members: []user.User{alice, bob}},
	}

	t.Run("empty query returns input unchanged", func(t *testing.T) {
		got := FilterRooms(rooms, "", "u1")
		assert.Equal(t, rooms, got)
	})
	t.Run("case-insensitive substring", func(t *testing.T) {
		got := FilterRooms(rooms, "math", "u1")
		if assert.Len(t, got, 1) {
			assert.Equal(t, "r1", got[0].ID)
		}
	})
	t.Run("matches computed display name", func(t *testing.T) {
		got := FilterRooms(rooms, "bob", "u1")
		if assert.Len(t, got, 1) {
			assert.Equal(t, "r3", got[0].ID)
		}
	})
	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, FilterRooms(rooms, "chemistry", "u1"))
	})
}

func TestDirectoryOrderAndLastMessage(t *testing.T) {
	t0 := time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC)
	dir := NewDirectory("u1", []Room{
		{ID: "r1", Name: "A", UpdatedAt: t0},
		{ID: "r2", Name: "B", UpdatedAt: t0.Add(time.Hour)},
		{ID: "r3", Name: "C", UpdatedAt: t0.Add(2 * time.Hour)},
	})

	ids := func() []string {
		var out []string
		for _, r := range dir.Rooms() {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []string{"r3", "r2", "r1"}, ids())

	// a new message bumps the room to the top and caches the preview
	pv := MessagePreview{Content: "hey", SenderID: "u2", SentAt: t0.Add(3 * time.Hour)}
	assert.True(t, dir.RecordLastMessage("r1", pv, pv.SentAt))
	assert.Equal(t, []string{"r1", "r3", "r2"}, ids())
	r1, ok := dir.Get("r1")
	assert.True(t, ok)
	if assert.NotNil(t, r1.LastMessage) {
		assert.Equal(t, "hey", r1.LastMessage.Content)
	}

	// unknown room is reported, nothing changes
	assert.False(t, dir.RecordLastMessage("nope", pv, pv.SentAt))
	assert.Equal(t, []string{"r1", "r3", "r2"}, ids())
}
