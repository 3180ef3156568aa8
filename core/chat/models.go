package chat

import (
	"sort"
	"strings"
	"time"

	"github.com/darasahq/darasa/core/user"
)

// RoomKind discriminates how a room came to exist and who it binds.
type RoomKind string

const (
	RoomClass          RoomKind = "class"
	RoomDirect         RoomKind = "direct"
	RoomTeacherStudent RoomKind = "teacher_student"
)

// MessagePreview is the directory-level summary of a room's latest message.
type MessagePreview struct {
	Content    string    `json:"content"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	SentAt     time.Time `json:"sent_at"`
}

// Room is a conversation scope. Rooms are created by class provisioning or
// StartDirect; this subsystem only ever updates last-message and updated-at.
type Room struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        RoomKind        `json:"kind"`
	ClassID     string          `json:"class_id,omitempty"`
	DirectKey   string          `json:"-"` // canonical pair key, direct rooms only
	MemberIDs   []string        `json:"member_ids"`
	Members     []user.User     `json:"members,omitempty"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DisplayName returns the room's explicit name when set, otherwise the
// comma-joined labels of all members except the viewer.
func (r Room) DisplayName(viewerID string) string {
	if r.Name != "" {
		return r.Name
	}
	names := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		if m.ID == viewerID {
			continue
		}
		names = append(names, m.Label())
	}
	return strings.Join(names, ", ")
}

// HasMember reports whether uid belongs to the room.
func (r Room) HasMember(uid string) bool {
	for _, id := range r.MemberIDs {
		if id == uid {
			return true
		}
	}
	return false
}

// DirectKey builds the canonical key identifying the direct room for a user
// pair. Argument order does not matter.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// MessageState tracks a message through the optimistic send pipeline.
// Remote and historical messages are always MessageSent.
type MessageState string

const (
	MessageSent    MessageState = "sent"
	MessageSending MessageState = "sending"
	MessageFailed  MessageState = "failed"
)

// Attachment is a stored file referenced by a message.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
}

// Message is a single chat message. ID is server-assigned and authoritative;
// LocalID only identifies the record between optimistic append and persist.
type Message struct {
	ID         string       `json:"id"`
	LocalID    string       `json:"local_id,omitempty"`
	RoomID     string       `json:"room_id"`
	SenderID   string       `json:"sender_id"`
	SenderName string       `json:"sender_name"`
	Content    string       `json:"content"`
	Attachment *Attachment  `json:"attachment,omitempty"`
	State      MessageState `json:"state"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Preview reduces a message to its directory summary.
func (m Message) Preview() MessagePreview {
	return MessagePreview{
		Content:    m.Content,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SentAt:     m.CreatedAt,
	}
}

// sortMessages orders msgs by CreatedAt asc, stable so equal timestamps keep
// their insertion order.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
