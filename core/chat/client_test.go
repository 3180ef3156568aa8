package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/darasahq/darasa/core/user"
)

var (
	testAlice = user.User{ID: "u1", Name: "Alice A", Email: "alice@test.cd"}
	testBob   = user.User{ID: "u2", Name: "Bob B", Email: "bob@test.cd"}

	testRoom = Room{
		ID:        "r1",
		Name:      "Math 101",
		Kind:      RoomClass,
		MemberIDs: []string{"u1", "u2"},
		UpdatedAt: time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC),
	}
)

func TestClientSendEmptyIsNoop(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))

	assert.NoError(t, cli.Send(ctx, ""))
	assert.NoError(t, cli.Send(ctx, "   \n\t"))

	assert.Empty(t, cli.Messages())
	assert.Equal(t, 0, env.repo.messageCount("r1"))
	assert.Equal(t, 0, env.broker.publishedCount())
}

func TestClientSendOptimisticReconcile(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))
	assert.NoError(t, cli.Send(ctx, "hello"))

	// exactly one record, reconciled in place to the authoritative id
	msgs := cli.Messages()
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, MessageSent, msgs[0].State)
		assert.Equal(t, "hello", msgs[0].Content)
		assert.Equal(t, "u1", msgs[0].SenderID)
	}
	assert.Equal(t, 1, env.repo.messageCount("r1"))
	assert.Equal(t, 1, env.broker.publishedCount())

	// directory preview and sort key follow the send
	rooms := cli.Rooms()
	if assert.NotEmpty(t, rooms) && assert.NotNil(t, rooms[0].LastMessage) {
		assert.Equal(t, "hello", rooms[0].LastMessage.Content)
	}
	room, err := env.repo.GetRoom(ctx, "r1")
	assert.NoError(t, err)
	if assert.NotNil(t, room.LastMessage) {
		assert.Equal(t, "hello", room.LastMessage.Content)
	}
	assert.True(t, room.UpdatedAt.After(testRoom.UpdatedAt))
}

func TestClientSendSingleFlight(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))

	// a second send entered while the first is persisting hits the gate
	var second error
	env.repo.onInsert = func() {
		second = cli.Send(ctx, "while in flight")
	}
	assert.NoError(t, cli.Send(ctx, "first"))
	assert.ErrorIs(t, second, ErrSendInFlight)
	assert.Len(t, cli.Messages(), 1)
}

func TestClientSendPersistFailureAndResend(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))

	env.repo.insertErr = assert.AnError
	assert.Error(t, cli.Send(ctx, "doomed"))

	// visible failed state, nothing persisted or broadcast
	msgs := cli.Messages()
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, MessageFailed, msgs[0].State)
		assert.Empty(t, msgs[0].ID)
		assert.NotEmpty(t, msgs[0].LocalID)
	}
	assert.Equal(t, 0, env.repo.messageCount("r1"))
	assert.Equal(t, 0, env.broker.publishedCount())

	// retry succeeds and reconciles the same record
	env.repo.insertErr = nil
	assert.NoError(t, cli.Resend(ctx, msgs[0].LocalID))

	msgs = cli.Messages()
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, MessageSent, msgs[0].State)
		assert.Equal(t, "m1", msgs[0].ID)
	}
	assert.Equal(t, 1, env.broker.publishedCount())

	assert.ErrorIs(t, cli.Resend(ctx, "unknown"), ErrMessageNotFound)
}

func TestClientBroadcastSelfExclusionAndDedup(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	alice := env.client(t, testAlice)
	bob := env.client(t, testBob)
	ctx := context.Background()

	assert.NoError(t, alice.SelectRoom(ctx, "r1"))
	assert.NoError(t, bob.SelectRoom(ctx, "r1"))

	assert.NoError(t, alice.Send(ctx, "hi bob"))

	// bob gets the broadcast; alice keeps her single reconciled record
	assert.Len(t, alice.Messages(), 1)
	bobMsgs := bob.Messages()
	if assert.Len(t, bobMsgs, 1) {
		assert.Equal(t, "m1", bobMsgs[0].ID)
		assert.Equal(t, MessageSent, bobMsgs[0].State)
	}

	// a replayed broadcast with a known id is dropped
	env.broker.Publish("r1", Broadcast{Origin: "elsewhere", Message: bobMsgs[0]})
	assert.Len(t, bob.Messages(), 1)

	// bob's directory preview follows the arrival
	rooms := bob.Rooms()
	if assert.NotEmpty(t, rooms) && assert.NotNil(t, rooms[0].LastMessage) {
		assert.Equal(t, "hi bob", rooms[0].LastMessage.Content)
	}
}

func TestClientBroadcastSortedInsert(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))
	assert.NoError(t, cli.Send(ctx, "one"))
	assert.NoError(t, cli.Send(ctx, "three"))

	msgs := cli.Messages()
	if !assert.Len(t, msgs, 2) {
		return
	}

	// a late arrival timestamped between the two lands between them
	late := Message{
		ID:        "x1",
		RoomID:    "r1",
		SenderID:  "u2",
		Content:   "two",
		CreatedAt: msgs[0].CreatedAt.Add(time.Nanosecond),
	}
	env.broker.Publish("r1", Broadcast{Origin: "elsewhere", Message: late})

	var contents []string
	for _, m := range cli.Messages() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents)

	// an equal-timestamp arrival goes after the existing message
	tie := Message{
		ID:        "x2",
		RoomID:    "r1",
		SenderID:  "u2",
		Content:   "one-and-a-bit",
		CreatedAt: msgs[0].CreatedAt,
	}
	env.broker.Publish("r1", Broadcast{Origin: "elsewhere", Message: tie})

	contents = contents[:0]
	for _, m := range cli.Messages() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"one", "one-and-a-bit", "two", "three"}, contents)
}

func TestClientSubscribeBeforeFetch(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	// a message lands while the history fetch is running; the subscription
	// is already attached so it is kept, and kept only once
	raced := Message{
		ID:        "x1",
		RoomID:    "r1",
		SenderID:  "u2",
		Content:   "racing",
		CreatedAt: time.Now().UTC(),
	}
	env.repo.onQuery = func(roomID string) {
		env.repo.onQuery = nil
		env.broker.Publish("r1", Broadcast{Origin: "elsewhere", Message: raced})
	}

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))

	var ids []string
	for _, m := range cli.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"x1"}, ids)
}

func TestClientRoomSwitchMovesSubscription(t *testing.T) {
	roomB := Room{ID: "r2", Name: "History", Kind: RoomClass, MemberIDs: []string{"u1"}}
	env := newTestEnv(nil, testRoom, roomB)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))
	assert.Equal(t, 1, env.broker.activeSubs("r1"))

	assert.NoError(t, cli.SelectRoom(ctx, "r2"))
	assert.Equal(t, 0, env.broker.activeSubs("r1"))
	assert.Equal(t, 1, env.broker.activeSubs("r2"))

	// nothing from the old room reaches the list anymore
	env.broker.Publish("r1", Broadcast{Origin: "elsewhere", Message: Message{
		ID: "x1", RoomID: "r1", SenderID: "u2", Content: "ghost", CreatedAt: time.Now().UTC(),
	}})
	assert.Empty(t, cli.Messages())

	room, ok := cli.ActiveRoom()
	assert.True(t, ok)
	assert.Equal(t, "r2", room.ID)

	assert.ErrorIs(t, cli.SelectRoom(ctx, "nope"), ErrRoomNotFound)
}

func TestClientDiscardsTrailingDelivery(t *testing.T) {
	roomB := Room{ID: "r2", Name: "History", Kind: RoomClass, MemberIDs: []string{"u1"}}
	env := newTestEnv(nil, testRoom, roomB)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))
	env.broker.mu.Lock()
	fn := env.broker.subs["r1"][0].fn
	env.broker.mu.Unlock()

	assert.NoError(t, cli.SelectRoom(ctx, "r2"))

	// a delivery that was already in flight when the subscription detached
	fn(Broadcast{Origin: "elsewhere", Message: Message{
		ID: "x1", RoomID: "r1", SenderID: "u2", Content: "late", CreatedAt: time.Now().UTC(),
	}})
	assert.Empty(t, cli.Messages())
}

func TestClientAttachments(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))

	t.Run("oversized file rejected, prior selection kept", func(t *testing.T) {
		assert.NoError(t, cli.AttachFile(File{Name: "notes.pdf", Size: 1 << 20}))
		err := cli.AttachFile(File{Name: "movie.mp4", Size: 11 << 20})
		assert.ErrorIs(t, err, ErrFileTooLarge)
		pending, ok := cli.PendingAttachment()
		assert.True(t, ok)
		assert.Equal(t, "notes.pdf", pending.Name)
		assert.Equal(t, 0, env.uploader.callCount())
	})

	t.Run("new selection replaces the old one", func(t *testing.T) {
		assert.NoError(t, cli.AttachFile(File{Name: "homework.pdf", Size: 2 << 20}))
		pending, _ := cli.PendingAttachment()
		assert.Equal(t, "homework.pdf", pending.Name)
	})

	t.Run("attachment-only send uses the placeholder", func(t *testing.T) {
		assert.NoError(t, cli.Send(ctx, ""))
		msgs := cli.Messages()
		if assert.Len(t, msgs, 1) {
			assert.Equal(t, attachmentPlaceholder+"homework.pdf", msgs[0].Content)
			if assert.NotNil(t, msgs[0].Attachment) {
				assert.Equal(t, "homework.pdf", msgs[0].Attachment.Name)
				assert.True(t, strings.HasPrefix(msgs[0].Attachment.URL, "https://media.test/"))
			}
		}
		if assert.Equal(t, 1, env.uploader.callCount()) {
			call := env.uploader.calls[0]
			assert.True(t, strings.HasPrefix(call.path, "r1/"))
			assert.True(t, strings.HasSuffix(call.path, "_homework.pdf"))
		}
		// consumed by the send
		_, ok := cli.PendingAttachment()
		assert.False(t, ok)
	})

	t.Run("upload failure degrades to text-only", func(t *testing.T) {
		env.uploader.err = assert.AnError
		assert.NoError(t, cli.AttachFile(File{Name: "scan.png", Size: 1 << 20}))
		assert.NoError(t, cli.Send(ctx, "see attached"))

		msgs := cli.Messages()
		if assert.Len(t, msgs, 2) {
			last := msgs[len(msgs)-1]
			assert.Equal(t, "see attached", last.Content)
			assert.Nil(t, last.Attachment)
			assert.Equal(t, MessageSent, last.State)
		}
	})

	t.Run("path-walking file name is confined to the room directory", func(t *testing.T) {
		env.uploader.err = nil
		assert.NoError(t, cli.AttachFile(File{Name: "../../../../etc/passwd", Size: 1 << 10}))
		assert.NoError(t, cli.Send(ctx, "look"))

		if assert.Equal(t, 3, env.uploader.callCount()) {
			call := env.uploader.calls[len(env.uploader.calls)-1]
			assert.True(t, strings.HasPrefix(call.path, "r1/"))
			assert.True(t, strings.HasSuffix(call.path, "_passwd"))
			assert.NotContains(t, call.path, "..")
		}
	})
}

func TestClientLoadOlder(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	base := time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		env.repo.msgs["r1"] = append(env.repo.msgs["r1"], Message{
			ID:        "m" + string(rune('1'+i)),
			RoomID:    "r1",
			SenderID:  "u2",
			Content:   "msg",
			State:     MessageSent,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	setPageSize(t, 2)

	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))
	assert.Len(t, cli.Messages(), 2) // latest page

	assert.NoError(t, cli.LoadOlder(ctx))
	msgs := cli.Messages()
	if assert.Len(t, msgs, 4) {
		// oldest-first, pages contiguous
		for i := 1; i < len(msgs); i++ {
			assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}

	assert.NoError(t, cli.LoadOlder(ctx))
	assert.Len(t, cli.Messages(), 5)
}

func TestClientClose(t *testing.T) {
	env := newTestEnv(nil, testRoom)
	cli := env.client(t, testAlice)
	ctx := context.Background()

	assert.NoError(t, cli.SelectRoom(ctx, "r1"))
	cli.Close()
	cli.Close() // idempotent

	assert.Equal(t, 0, env.broker.activeSubs("r1"))
	assert.ErrorIs(t, cli.Send(ctx, "hello"), ErrClientClosed)
	assert.ErrorIs(t, cli.SelectRoom(ctx, "r1"), ErrClientClosed)

	// the event stream is closed
	for range cli.Events() {
	}
}
