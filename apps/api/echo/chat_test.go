package echoapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
	testutil "github.com/darasahq/darasa/tests"
)

func Test_chatApi_queryRooms(t *testing.T) {
	app, deps := setupAPI(t)

	now := time.Now()
	alice := testutil.CreateUser(t, deps.usrRepo, "Alice", "alice1", "alice@test.cd", "", []string{user.RoleTeacher}, true)
	bob := testutil.CreateUser(t, deps.usrRepo, "Bob", "bob123", "bob@test.cd", "", []string{user.RoleStudent}, true)
	carol := testutil.CreateUser(t, deps.usrRepo, "Carol", "carol1", "carol@test.cd", "", []string{user.RoleStudent}, true)

	math := testutil.CreateRoom(t, deps.chatRepo, "Math 101", chat.RoomClass, []user.User{alice, bob}, now.Add(-time.Hour))
	direct := testutil.CreateRoom(t, deps.chatRepo, "", chat.RoomDirect, []user.User{alice, bob}, now)

	path := func(search string) string {
		v := make(url.Values)
		v.Add("search", search)
		return "/v1/chat/rooms?" + v.Encode()
	}

	listIDs := func(t *testing.T, body []byte) []string {
		var rooms []chat.Room
		if err := json.Unmarshal(body, &rooms); err != nil {
			t.Fatalf("unmarshalling rooms: %v", err)
		}
		ids := make([]string, 0, len(rooms))
		for _, r := range rooms {
			ids = append(ids, r.ID)
		}
		return ids
	}

	t.Run("auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/chat/rooms")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("most recently updated first", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/chat/rooms", getToken(t, alice))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{direct.ID, math.ID}, listIDs(t, rec.Body.Bytes()))
	})

	t.Run("search by room name", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path("math"), getToken(t, alice))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{math.ID}, listIDs(t, rec.Body.Bytes()))
	})

	t.Run("search by member name for unnamed rooms", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path("bob"), getToken(t, alice))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{direct.ID}, listIDs(t, rec.Body.Bytes()))
	})

	t.Run("non-member sees nothing", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/chat/rooms", getToken(t, carol))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, listIDs(t, rec.Body.Bytes()))
	})
}

func Test_chatApi_queryMessages(t *testing.T) {
	app, deps := setupAPI(t)

	alice := testutil.CreateUser(t, deps.usrRepo, "Alice", "alice1", "alice@test.cd", "", []string{user.RoleTeacher}, true)
	bob := testutil.CreateUser(t, deps.usrRepo, "Bob", "bob123", "bob@test.cd", "", []string{user.RoleStudent}, true)
	carol := testutil.CreateUser(t, deps.usrRepo, "Carol", "carol1", "carol@test.cd", "", []string{user.RoleStudent}, true)

	room := testutil.CreateRoom(t, deps.chatRepo, "Math 101", chat.RoomClass, []user.User{alice, bob})

	base := time.Now().Add(-time.Hour)
	m1 := testutil.InsertMessage(t, deps.chatRepo, room.ID, alice, "hello", base)
	m2 := testutil.InsertMessage(t, deps.chatRepo, room.ID, bob, "hi", base.Add(time.Minute))
	m3 := testutil.InsertMessage(t, deps.chatRepo, room.ID, alice, "homework is up", base.Add(2*time.Minute))

	listIDs := func(t *testing.T, body []byte) []string {
		var msgs []chat.Message
		if err := json.Unmarshal(body, &msgs); err != nil {
			t.Fatalf("unmarshalling messages: %v", err)
		}
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		return ids
	}

	t.Run("oldest first", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/chat/rooms/"+room.ID+"/messages", getToken(t, alice))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, listIDs(t, rec.Body.Bytes()))
	})

	t.Run("before pages backwards", func(t *testing.T) {
		before := url.QueryEscape(m2.CreatedAt.Format(time.RFC3339))
		req, rec := newAuthRequest(http.MethodGet, "/v1/chat/rooms/"+room.ID+"/messages?before="+before, getToken(t, alice))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{m1.ID}, listIDs(t, rec.Body.Bytes()))
	})

	t.Run("bad before param", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/chat/rooms/"+room.ID+"/messages?before=yesterday", getToken(t, alice))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-member gets not found", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/chat/rooms/"+room.ID+"/messages", getToken(t, carol))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})}, rec)
	})

	t.Run("unknown room", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/chat/rooms/nope/messages", getToken(t, alice))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_chatApi_startDirect(t *testing.T) {
	app, deps := setupAPI(t)

	alice := testutil.CreateUser(t, deps.usrRepo, "Alice", "alice1", "alice@test.cd", "", []string{user.RoleTeacher}, true)
	bob := testutil.CreateUser(t, deps.usrRepo, "Bob", "bob123", "bob@test.cd", "", []string{user.RoleStudent}, true)

	body := func(userID string) []byte { return marchallObj(t, StartDirectRequest{UserID: userID}) }

	var first chat.Room
	t.Run("creates the room", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/chat/direct", getToken(t, alice), body(bob.ID))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
		if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
			t.Fatalf("unmarshalling room: %v", err)
		}
		assert.Equal(t, chat.RoomDirect, first.Kind)
		assert.ElementsMatch(t, []string{alice.ID, bob.ID}, first.MemberIDs)
	})

	t.Run("idempotent per pair", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/chat/direct", getToken(t, bob), body(alice.ID))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
		var again chat.Room
		if err := json.Unmarshal(rec.Body.Bytes(), &again); err != nil {
			t.Fatalf("unmarshalling room: %v", err)
		}
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("rejects chatting with yourself", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/chat/direct", getToken(t, alice), body(alice.ID))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown target", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/chat/direct", getToken(t, alice), body("nope"))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"user_id": "unknown user"})}, rec)
	})
}
