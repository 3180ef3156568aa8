package echoapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
	testutil "github.com/darasahq/darasa/tests"
)

type wsFrame struct {
	Type     string         `json:"type"`
	RoomID   string         `json:"room_id"`
	Error    string         `json:"error"`
	Message  *chat.Message  `json:"message"`
	Messages []chat.Message `json:"messages"`
	Rooms    []chat.Room    `json:"rooms"`
}

func dialWS(t *testing.T, ts *httptest.Server, usr user.User) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?token=" + getToken(t, usr)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrame reads until a frame of the wanted type arrives; anything else on
// the way is discarded.
func readFrame(t *testing.T, conn *websocket.Conn, wantType string) wsFrame {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %q frame: %v", wantType, err)
		}
		if f.Type == wantType {
			return f
		}
	}
}

func Test_chatApi_ws(t *testing.T) {
	app, deps := setupAPI(t)

	alice := testutil.CreateUser(t, deps.usrRepo, "Alice", "alice1", "alice@test.cd", "", []string{user.RoleTeacher}, true)
	bob := testutil.CreateUser(t, deps.usrRepo, "Bob", "bob123", "bob@test.cd", "", []string{user.RoleStudent}, true)
	room := testutil.CreateRoom(t, deps.chatRepo, "Math 101", chat.RoomClass, []user.User{alice, bob})

	ts := httptest.NewServer(app)
	defer ts.Close()

	t.Run("rejects missing token", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws"
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil) //nolint:bodyclose
		assert.Error(t, err)
		if resp != nil {
			defer resp.Body.Close()
			assert.Equal(t, 400, resp.StatusCode)
		}
	})

	aliceConn := dialWS(t, ts, alice)
	bobConn := dialWS(t, ts, bob)

	// the directory arrives first
	dir := readFrame(t, aliceConn, "room")
	if assert.Len(t, dir.Rooms, 1) {
		assert.Equal(t, room.ID, dir.Rooms[0].ID)
	}
	readFrame(t, bobConn, "room")

	// selecting a room answers with its history
	sendCmd(t, aliceConn, wsCommand{Action: "select_room", RoomID: room.ID})
	hist := readFrame(t, aliceConn, "history")
	assert.Equal(t, room.ID, hist.RoomID)
	assert.Empty(t, hist.Messages)

	sendCmd(t, bobConn, wsCommand{Action: "select_room", RoomID: room.ID})
	readFrame(t, bobConn, "history")

	t.Run("send reaches both ends", func(t *testing.T) {
		sendCmd(t, aliceConn, wsCommand{Action: "send", Text: "hello"})

		// sender: optimistic append, then the in-place reconciliation
		optimistic := readFrame(t, aliceConn, "message")
		if assert.NotNil(t, optimistic.Message) {
			assert.Equal(t, chat.MessageSending, optimistic.Message.State)
			assert.Equal(t, "hello", optimistic.Message.Content)
			assert.NotEmpty(t, optimistic.Message.LocalID)
		}
		acked := readFrame(t, aliceConn, "message_update")
		if assert.NotNil(t, acked.Message) {
			assert.Equal(t, chat.MessageSent, acked.Message.State)
			assert.NotEmpty(t, acked.Message.ID)
		}

		// receiver: one authoritative copy via fan-out
		got := readFrame(t, bobConn, "message")
		if assert.NotNil(t, got.Message) {
			assert.Equal(t, chat.MessageSent, got.Message.State)
			assert.Equal(t, "hello", got.Message.Content)
			assert.Equal(t, alice.ID, got.Message.SenderID)
		}
	})

	t.Run("attachment-only send gets a placeholder", func(t *testing.T) {
		sendCmd(t, aliceConn, wsCommand{
			Action: "attach",
			File:   &wsFile{Name: "report.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 report")},
		})
		sendCmd(t, aliceConn, wsCommand{Action: "send"})

		got := readFrame(t, bobConn, "message")
		if assert.NotNil(t, got.Message) {
			assert.Equal(t, "\U0001F4CE report.pdf", got.Message.Content)
			if assert.NotNil(t, got.Message.Attachment) {
				assert.True(t, strings.HasPrefix(got.Message.Attachment.URL, "https://media.test/"), got.Message.Attachment.URL)
				assert.Equal(t, "report.pdf", got.Message.Attachment.Name)
			}
		}
	})

	t.Run("command errors come back as error frames", func(t *testing.T) {
		conn := dialWS(t, ts, bob)
		readFrame(t, conn, "room")

		sendCmd(t, conn, wsCommand{Action: "send", Text: "no room selected"})
		f := readFrame(t, conn, "error")
		assert.Equal(t, chat.ErrNoActiveRoom.Error(), f.Error)

		sendCmd(t, conn, wsCommand{Action: "warp"})
		f = readFrame(t, conn, "error")
		assert.Contains(t, f.Error, "unknown action")
	})

	t.Run("start_direct announces the new room", func(t *testing.T) {
		sendCmd(t, aliceConn, wsCommand{Action: "start_direct", UserID: bob.ID})
		// skip room events queued by the earlier sends
		for i := 0; i < 10; i++ {
			if f := readFrame(t, aliceConn, "room"); f.RoomID != "" && f.RoomID != room.ID {
				return
			}
		}
		t.Fatal("no direct room event received")
	})
}

func sendCmd(t *testing.T, conn *websocket.Conn, cmd wsCommand) {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("writing %q command: %v", cmd.Action, err)
	}
}
