package chat

import (
	"sort"
	"strings"
	"time"
)

// FilterRooms returns the rooms whose display name (from viewerID's
// perspective) contains query, case-insensitively. An empty query returns
// rooms unchanged.
func FilterRooms(rooms []Room, query, viewerID string) []Room {
	if query == "" {
		return rooms
	}
	q := strings.ToLower(query)
	matches := make([]Room, 0, len(rooms))
	for _, room := range rooms {
		if strings.Contains(strings.ToLower(room.DisplayName(viewerID)), q) {
			matches = append(matches, room)
		}
	}
	return matches
}

// Directory is a user's room list with its last-message cache. It keeps rooms
// sorted by UpdatedAt desc and is not safe for concurrent use; the owning
// Client serializes access.
type Directory struct {
	viewerID string
	rooms    []Room
}

func NewDirectory(viewerID string, rooms []Room) *Directory {
	d := &Directory{viewerID: viewerID, rooms: rooms}
	d.sort()
	return d
}

func (d *Directory) sort() {
	sort.SliceStable(d.rooms, func(i, j int) bool {
		return d.rooms[i].UpdatedAt.After(d.rooms[j].UpdatedAt)
	})
}

// Rooms returns the directory in most-recently-updated order.
func (d *Directory) Rooms() []Room {
	return d.rooms
}

// Filter applies FilterRooms from the owner's perspective.
func (d *Directory) Filter(query string) []Room {
	return FilterRooms(d.rooms, query, d.viewerID)
}

// Get looks a room up by id.
func (d *Directory) Get(roomID string) (Room, bool) {
	for _, room := range d.rooms {
		if room.ID == roomID {
			return room, true
		}
	}
	return Room{}, false
}

// Add inserts a room the directory does not know yet; known rooms are
// refreshed in place. The sort order is restored either way.
func (d *Directory) Add(room Room) {
	for i := range d.rooms {
		if d.rooms[i].ID == room.ID {
			d.rooms[i] = room
			d.sort()
			return
		}
	}
	d.rooms = append(d.rooms, room)
	d.sort()
}

// RecordLastMessage updates the last-message cache and sort key for roomID.
// It reports whether the room was known.
func (d *Directory) RecordLastMessage(roomID string, pv MessagePreview, at time.Time) bool {
	for i := range d.rooms {
		if d.rooms[i].ID == roomID {
			d.rooms[i].LastMessage = &pv
			if at.After(d.rooms[i].UpdatedAt) {
				d.rooms[i].UpdatedAt = at
			}
			d.sort()
			return true
		}
	}
	return false
}
