package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

type repoMock struct {
	mu        sync.Mutex
	rooms     []Room
	msgs      map[string][]Message
	nextID    int
	insertErr error
	// onQuery runs inside QueryMessages before results are built; used to
	// race a broadcast against a history fetch.
	onQuery func(roomID string)
	// onInsert runs once at the top of InsertMessage.
	onInsert func()
}

func newRepoMock(rooms ...Room) *repoMock {
	return &repoMock{rooms: rooms, msgs: make(map[string][]Message)}
}

func (r *repoMock) QueryUserRooms(ctx context.Context, userID string) ([]Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Room
	for _, room := range r.rooms {
		if room.HasMember(userID) {
			out = append(out, room)
		}
	}
	return out, nil
}

func (r *repoMock) GetRoom(ctx context.Context, roomID string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		if room.ID == roomID {
			return room, nil
		}
	}
	return Room{}, ErrRoomNotFound
}

func (r *repoMock) GetDirectRoomByKey(ctx context.Context, key string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		if room.Kind == RoomDirect && room.DirectKey == key {
			return room, nil
		}
	}
	return Room{}, ErrRoomNotFound
}

func (r *repoMock) CreateRoom(ctx context.Context, room Room) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rooms {
		if room.DirectKey != "" && existing.DirectKey == room.DirectKey {
			return Room{}, errors.New("duplicate direct key")
		}
	}
	r.rooms = append(r.rooms, room)
	return room, nil
}

func (r *repoMock) QueryMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]Message, error) {
	if r.onQuery != nil {
		r.onQuery(roomID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var window []Message
	for _, m := range r.msgs[roomID] {
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		window = append(window, m)
	}
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	return append([]Message(nil), window...), nil
}

func (r *repoMock) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	if r.onInsert != nil {
		hook := r.onInsert
		r.onInsert = nil
		hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return Message{}, r.insertErr
	}
	r.nextID++
	msg.ID = fmt.Sprintf("m%d", r.nextID)
	msg.LocalID = ""
	msg.State = MessageSent
	r.msgs[msg.RoomID] = append(r.msgs[msg.RoomID], msg)
	sortMessages(r.msgs[msg.RoomID])
	return msg, nil
}

func (r *repoMock) SetRoomLastMessage(ctx context.Context, roomID string, pv MessagePreview) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rooms {
		if r.rooms[i].ID == roomID {
			r.rooms[i].LastMessage = &pv
		}
	}
	return nil
}

func (r *repoMock) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rooms {
		if r.rooms[i].ID == roomID {
			r.rooms[i].UpdatedAt = at
		}
	}
	return nil
}

func (r *repoMock) messageCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs[roomID])
}

func (r *repoMock) roomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// brokerMock fans out synchronously within the test process.
type brokerMock struct {
	mu        sync.Mutex
	subs      map[string][]*subMock
	published []Broadcast
}

type subMock struct {
	b      *brokerMock
	roomID string
	fn     func(Broadcast)
	active bool
}

func newBrokerMock() *brokerMock {
	return &brokerMock{subs: make(map[string][]*subMock)}
}

func (b *brokerMock) Subscribe(roomID string, fn func(Broadcast)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subMock{b: b, roomID: roomID, fn: fn, active: true}
	b.subs[roomID] = append(b.subs[roomID], sub)
	return sub, nil
}

func (b *brokerMock) Publish(roomID string, bc Broadcast) error {
	b.mu.Lock()
	var fns []func(Broadcast)
	for _, sub := range b.subs[roomID] {
		if sub.active {
			fns = append(fns, sub.fn)
		}
	}
	b.published = append(b.published, bc)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(bc)
	}
	return nil
}

func (b *brokerMock) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *brokerMock) activeSubs(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	for _, sub := range b.subs[roomID] {
		if sub.active {
			n++
		}
	}
	return n
}

func (s *subMock) Unsubscribe() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.active = false
	return nil
}

type uploadCall struct {
	bucket string
	path   string
	file   File
}

type uploaderMock struct {
	mu    sync.Mutex
	calls []uploadCall
	err   error
}

func (u *uploaderMock) Upload(ctx context.Context, bucket, path string, f File) (Stored, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, uploadCall{bucket, path, f})
	if u.err != nil {
		return Stored{}, u.err
	}
	return Stored{
		URL:         fmt.Sprintf("https://media.test/%s/%s", bucket, path),
		ContentType: "application/octet-stream",
	}, nil
}

func (u *uploaderMock) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

// userSvcStub covers the one user.Service method the chat service calls.
type userSvcStub struct {
	user.Service
	users map[string]user.User
}

func (s userSvcStub) GetByID(ctx context.Context, id string) (user.User, error) {
	if usr, ok := s.users[id]; ok {
		return usr, nil
	}
	return user.User{}, user.ErrNotFound
}

type mailMock struct {
	sent chan *core.EmailMessage
}

func newMailMock() *mailMock {
	return &mailMock{sent: make(chan *core.EmailMessage, 8)}
}

func (m *mailMock) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		m.sent <- msg
	}
}

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type testEnv struct {
	repo     *repoMock
	broker   *brokerMock
	uploader *uploaderMock
	mail     *mailMock
	svc      Service
}

func newTestEnv(users map[string]user.User, rooms ...Room) *testEnv {
	env := &testEnv{
		repo:     newRepoMock(rooms...),
		broker:   newBrokerMock(),
		uploader: &uploaderMock{},
		mail:     newMailMock(),
	}
	env.svc = NewService(env.repo, env.broker, env.uploader, userSvcStub{users: users}, env.mail, nopLogger{})
	return env
}

func setPageSize(t *testing.T, n int) {
	t.Helper()
	orig := core.Conf.Chat.HistoryPageSize
	core.Conf.Chat.HistoryPageSize = n
	t.Cleanup(func() { core.Conf.Chat.HistoryPageSize = orig })
}

func (env *testEnv) client(t *testing.T, usr user.User) *Client {
	t.Helper()
	cli, err := env.svc.NewClient(context.Background(), usr)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	t.Cleanup(cli.Close)
	return cli
}
