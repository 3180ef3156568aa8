package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

const eventBufferSize = 256

const attachmentPlaceholder = "📎 "

type EventType string

const (
	// EventHistory carries the active room's full message list after a load.
	EventHistory EventType = "history"
	// EventMessage carries a message newly added to the active room's list.
	EventMessage EventType = "message"
	// EventMessageUpdate carries an in-place state change, keyed by local_id.
	EventMessageUpdate EventType = "message_update"
	// EventRoom signals a directory change (ordering, last-message preview).
	EventRoom EventType = "room"
)

// Event is what the delivery layer pushes to the connected user.
type Event struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"room_id,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Rooms    []Room    `json:"rooms,omitempty"`
}

// Client is one user's stateful messaging session: the room directory, at
// most one active room, and the optimistic send pipeline. All mutation is
// serialized behind mu; async completions (loads, persists, broadcasts)
// re-enter through it and are discarded when their session was superseded.
type Client struct {
	svc    *service
	usr    user.User
	origin string

	mu     sync.Mutex
	dir    *Directory
	sess   *session
	closed bool

	events chan Event
}

func (c *Client) User() user.User { return c.usr }

// Events is the stream consumed by the delivery layer; closed by Close.
func (c *Client) Events() <-chan Event { return c.events }

// emitLocked pushes an event without blocking; a consumer that cannot keep up
// loses events rather than stalling the pipeline. Callers must hold mu.
func (c *Client) emitLocked(evt Event) {
	if c.closed {
		return
	}
	select {
	case c.events <- evt:
	default:
		c.svc.logger.Warn("chat: event buffer full, dropping event")
	}
}

// Rooms returns the directory in most-recently-updated order.
func (c *Client) Rooms() []Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Room(nil), c.dir.Rooms()...)
}

// SearchRooms filters the directory by display name.
func (c *Client) SearchRooms(query string) []Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Room(nil), c.dir.Filter(query)...)
}

// ActiveRoom returns the currently selected room, if any.
func (c *Client) ActiveRoom() (Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Room{}, false
	}
	return c.sess.room, true
}

// Messages returns a snapshot of the active room's list.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return append([]Message(nil), c.sess.msgs...)
}

// SelectRoom makes roomID the active room: the previous session is torn down,
// the fan-out subscription is attached, and only then is the history fetched,
// so a message arriving during the fetch cannot be dropped. A load failure
// leaves the room active with an empty list.
func (c *Client) SelectRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	room, ok := c.dir.Get(roomID)
	if !ok {
		c.mu.Unlock()
		return ErrRoomNotFound
	}
	if c.sess != nil {
		c.sess.teardown()
	}
	s := newSession(room)
	c.sess = s
	c.mu.Unlock()

	// subscribe first
	sub, err := c.svc.broker.Subscribe(room.ID, func(b Broadcast) { c.receive(s, b) })
	if err != nil {
		// degraded: history still loads, new messages show up on reload
		c.svc.logger.Error("chat: subscribing to room", err)
	} else {
		c.mu.Lock()
		if c.sess != s {
			c.mu.Unlock()
			_ = sub.Unsubscribe()
			return nil
		}
		s.sub = sub
		c.mu.Unlock()
	}

	msgs, err := c.svc.repo.QueryMessages(ctx, room.ID, time.Time{}, c.svc.pageSize())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return nil
	}
	if err != nil {
		c.svc.logger.Error("chat: loading room history", err)
		c.emitLocked(Event{Type: EventHistory, RoomID: room.ID})
		return nil
	}
	s.setHistory(msgs)
	c.emitLocked(Event{Type: EventHistory, RoomID: room.ID, Messages: append([]Message(nil), s.msgs...)})
	return nil
}

// CloseRoom deselects the active room, if any.
func (c *Client) CloseRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.teardown()
		c.sess = nil
	}
}

// LoadOlder fetches the page preceding the oldest loaded message.
func (c *Client) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNoActiveRoom
	}
	var before time.Time
	if oldest, ok := s.oldest(); ok {
		before = oldest.CreatedAt
	}
	roomID := s.room.ID
	c.mu.Unlock()

	msgs, err := c.svc.repo.QueryMessages(ctx, roomID, before, c.svc.pageSize())
	if err != nil {
		return errors.Wrap(err, "loading older messages")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return nil
	}
	s.prependOlder(msgs)
	c.emitLocked(Event{Type: EventHistory, RoomID: roomID, Messages: append([]Message(nil), s.msgs...)})
	return nil
}

// AttachFile stages f for the next send, replacing any prior selection. An
// oversized file is rejected up front and the prior selection kept.
func (c *Client) AttachFile(f File) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ErrNoActiveRoom
	}
	if f.Size > core.Conf.Chat.AttachmentMaxSize {
		return ErrFileTooLarge
	}
	c.sess.pending = &f
	return nil
}

// ClearAttachment drops the staged attachment, if any.
func (c *Client) ClearAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.pending = nil
	}
}

// PendingAttachment returns the staged attachment, if any.
func (c *Client) PendingAttachment() (File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.pending == nil {
		return File{}, false
	}
	return *c.sess.pending, true
}

// Send runs the optimistic pipeline for the active room: upload the staged
// attachment (failure degrades to a text-only message), append a local record
// immediately, persist, reconcile in place, then broadcast and touch the
// room. A send with no text and no attachment is a no-op; only one send per
// room runs at a time.
func (c *Client) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNoActiveRoom
	}
	if text == "" && s.pending == nil {
		c.mu.Unlock()
		return nil
	}
	if s.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	s.sending = true
	pending := s.pending
	s.pending = nil // consumed by this send regardless of upload outcome
	room := s.room
	c.mu.Unlock()

	defer c.endSend(s)

	var att *Attachment
	if pending != nil {
		if a, err := c.svc.upload(ctx, room.ID, *pending); err != nil {
			c.svc.logger.Error("chat: attachment upload failed, sending without it", err)
		} else {
			att = &a
		}
	}

	content := text
	if content == "" && pending != nil {
		content = attachmentPlaceholder + pending.Name
	}

	local := Message{
		LocalID:    uuid.New().String(),
		RoomID:     room.ID,
		SenderID:   c.usr.ID,
		SenderName: c.usr.Label(),
		Content:    content,
		Attachment: att,
		State:      MessageSending,
		CreatedAt:  time.Now().UTC(),
	}

	c.mu.Lock()
	if c.sess != s {
		// room switched during the upload
		c.mu.Unlock()
		return nil
	}
	s.appendLocal(local)
	c.dir.RecordLastMessage(room.ID, local.Preview(), local.CreatedAt)
	c.emitLocked(Event{Type: EventMessage, RoomID: room.ID, Message: &local})
	c.emitLocked(Event{Type: EventRoom, RoomID: room.ID})
	c.mu.Unlock()

	return c.persist(ctx, s, local)
}

// Resend retries a message that failed to persist.
func (c *Client) Resend(ctx context.Context, localID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNoActiveRoom
	}
	if s.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	msg, ok := s.retry(localID)
	if !ok {
		c.mu.Unlock()
		return ErrMessageNotFound
	}
	s.sending = true
	c.emitLocked(Event{Type: EventMessageUpdate, RoomID: msg.RoomID, Message: &msg})
	c.mu.Unlock()

	defer c.endSend(s)
	return c.persist(ctx, s, msg)
}

func (c *Client) endSend(s *session) {
	c.mu.Lock()
	if c.sess == s {
		s.sending = false
	}
	c.mu.Unlock()
}

// persist writes the local record and reconciles or fails it in place. The
// broadcast and the room touch only happen after a successful write.
func (c *Client) persist(ctx context.Context, s *session, local Message) error {
	saved, err := c.svc.repo.InsertMessage(ctx, local)
	if err != nil {
		c.mu.Lock()
		if c.sess == s {
			if i := s.markFailed(local.LocalID); i >= 0 {
				failed := s.msgs[i]
				c.emitLocked(Event{Type: EventMessageUpdate, RoomID: local.RoomID, Message: &failed})
			}
		}
		c.mu.Unlock()
		return errors.Wrap(err, "persisting message")
	}
	saved.State = MessageSent

	c.mu.Lock()
	if c.sess == s {
		if i := s.reconcile(local.LocalID, saved); i >= 0 {
			acked := s.msgs[i]
			c.emitLocked(Event{Type: EventMessageUpdate, RoomID: saved.RoomID, Message: &acked})
		}
	}
	c.dir.RecordLastMessage(saved.RoomID, saved.Preview(), saved.CreatedAt)
	c.mu.Unlock()

	if err := c.svc.broker.Publish(saved.RoomID, Broadcast{Origin: c.origin, Message: saved}); err != nil {
		// participants catch up on their next room load
		c.svc.logger.Error("chat: broadcasting message", err)
	}
	if err := c.svc.repo.SetRoomLastMessage(ctx, saved.RoomID, saved.Preview()); err != nil {
		c.svc.logger.Error("chat: updating room preview", err)
	}
	if err := c.svc.repo.TouchRoom(ctx, saved.RoomID, saved.CreatedAt); err != nil {
		c.svc.logger.Error("chat: touching room", err)
	}
	return nil
}

// receive applies a fan-out delivery. Own broadcasts are dropped by origin;
// duplicates by authoritative id; arrivals land at their sorted position.
func (c *Client) receive(s *session, b Broadcast) {
	if b.Origin == c.origin {
		return
	}
	msg := b.Message
	msg.LocalID = ""
	msg.State = MessageSent

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.dir.RecordLastMessage(msg.RoomID, msg.Preview(), msg.CreatedAt) {
		c.emitLocked(Event{Type: EventRoom, RoomID: msg.RoomID})
	}
	if c.sess != s || msg.RoomID != s.room.ID {
		return
	}
	if s.hasID(msg.ID) {
		return
	}
	s.insertSorted(msg)
	c.emitLocked(Event{Type: EventMessage, RoomID: msg.RoomID, Message: &msg})
}

// StartDirect opens (or finds) the direct room with targetID and adds it to
// the directory. The directory is untouched on failure.
func (c *Client) StartDirect(ctx context.Context, targetID string) (Room, error) {
	room, err := c.svc.StartDirect(ctx, c.usr, targetID)
	if err != nil {
		return Room{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir.Add(room)
	c.emitLocked(Event{Type: EventRoom, RoomID: room.ID})
	return room, nil
}

// Close tears the client down: the subscription is detached and the event
// stream closed. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.sess != nil {
		c.sess.teardown()
		c.sess = nil
	}
	c.closed = true
	close(c.events)
}
