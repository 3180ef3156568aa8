package chat

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNoActiveRoom       = errors.New("no active room")
	ErrSendInFlight       = errors.New("a send is already in progress")
	ErrFileTooLarge       = errors.New("file exceeds the maximum allowed size")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
	ErrClientClosed       = errors.New("client closed")
)

type (
	// Repository persists rooms and messages. Room queries return rooms with
	// Members resolved; message queries return pages ordered oldest-first.
	Repository interface {
		QueryUserRooms(ctx context.Context, userID string) ([]Room, error)
		GetRoom(ctx context.Context, roomID string) (Room, error)
		GetDirectRoomByKey(ctx context.Context, key string) (Room, error)
		CreateRoom(ctx context.Context, room Room) (Room, error)
		// QueryMessages returns up to limit messages strictly before the given
		// time; a zero before means the latest page.
		QueryMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]Message, error)
		InsertMessage(ctx context.Context, msg Message) (Message, error)
		SetRoomLastMessage(ctx context.Context, roomID string, pv MessagePreview) error
		TouchRoom(ctx context.Context, roomID string, at time.Time) error
	}

	// Broadcast is the fan-out envelope. Origin identifies the publishing
	// client so it can drop its own deliveries.
	Broadcast struct {
		Origin  string  `json:"origin"`
		Message Message `json:"message"`
	}

	// Subscription is a live fan-out binding. Unsubscribe is idempotent and
	// stops new deliveries; one already in flight may still be applied after
	// it returns, so consumers re-check their own state on every delivery.
	Subscription interface {
		Unsubscribe() error
	}

	// Broker fans messages out to every subscriber of a room.
	Broker interface {
		Publish(roomID string, b Broadcast) error
		Subscribe(roomID string, fn func(Broadcast)) (Subscription, error)
	}

	// File is a to-be-uploaded attachment as received from the transport.
	File struct {
		Name        string
		Size        int64
		ContentType string
		Content     io.Reader
	}

	// Stored describes an uploaded file as reported by the Uploader; the
	// content type is sniffed when the client supplied none.
	Stored struct {
		URL         string
		ContentType string
	}

	Uploader interface {
		Upload(ctx context.Context, bucket, path string, f File) (Stored, error)
	}

	Service interface {
		// NewClient builds a stateful messaging client for usr, with the
		// room directory loaded.
		NewClient(ctx context.Context, usr user.User) (*Client, error)
		// StartDirect returns the direct room between me and target, creating
		// it if it does not exist yet. Idempotent per user pair.
		StartDirect(ctx context.Context, me user.User, targetID string) (Room, error)
		// Rooms returns usr's room directory, most recently updated first.
		Rooms(ctx context.Context, usr user.User) ([]Room, error)
		// History returns one page of roomID's messages strictly before the
		// given time (zero means the latest page), oldest-first. Non-members
		// get ErrRoomNotFound.
		History(ctx context.Context, usr user.User, roomID string, before time.Time) ([]Message, error)
	}

	service struct {
		repo     Repository
		broker   Broker
		uploader Uploader
		usrSvc   user.Service
		mailSvc  core.EmailService
		logger   core.Logger
	}
)

func NewService(
	repo Repository,
	broker Broker,
	uploader Uploader,
	usrSvc user.Service,
	mailSvc core.EmailService,
	logger core.Logger,
) Service {
	return &service{
		repo:     repo,
		broker:   broker,
		uploader: uploader,
		usrSvc:   usrSvc,
		mailSvc:  mailSvc,
		logger:   logger,
	}
}

func (svc *service) NewClient(ctx context.Context, usr user.User) (*Client, error) {
	rooms, err := svc.repo.QueryUserRooms(ctx, usr.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying user rooms")
	}
	return &Client{
		svc:    svc,
		usr:    usr,
		origin: uuid.New().String(),
		dir:    NewDirectory(usr.ID, rooms),
		events: make(chan Event, eventBufferSize),
	}, nil
}

func (svc *service) StartDirect(ctx context.Context, me user.User, targetID string) (Room, error) {
	if targetID == me.ID {
		return Room{}, core.NewValidationError(errors.New("cannot start a chat with yourself"))
	}
	target, err := svc.usrSvc.GetByID(ctx, targetID)
	if err != nil {
		return Room{}, errors.Wrap(err, "looking up chat target")
	}

	key := DirectKey(me.ID, target.ID)
	room, err := svc.repo.GetDirectRoomByKey(ctx, key)
	if err == nil {
		room.Members = []user.User{me, target}
		return room, nil
	}
	if !errors.Is(err, ErrRoomNotFound) {
		return Room{}, errors.Wrap(err, "querying direct room")
	}

	now := time.Now().UTC()
	room, err = svc.repo.CreateRoom(ctx, Room{
		ID:        uuid.New().String(),
		Kind:      RoomDirect,
		DirectKey: key,
		MemberIDs: []string{me.ID, target.ID},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		// lost a create race; the winner's room is the room
		if existing, err2 := svc.repo.GetDirectRoomByKey(ctx, key); err2 == nil {
			existing.Members = []user.User{me, target}
			return existing, nil
		}
		return Room{}, errors.Wrap(err, "creating direct room")
	}
	room.Members = []user.User{me, target}

	go svc.sendChatInviteMail(target, me)
	return room, nil
}

func (svc *service) Rooms(ctx context.Context, usr user.User) ([]Room, error) {
	rooms, err := svc.repo.QueryUserRooms(ctx, usr.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying user rooms")
	}
	dir := NewDirectory(usr.ID, rooms)
	return dir.Rooms(), nil
}

func (svc *service) History(ctx context.Context, usr user.User, roomID string, before time.Time) ([]Message, error) {
	room, err := svc.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(usr.ID) {
		return nil, ErrRoomNotFound
	}
	msgs, err := svc.repo.QueryMessages(ctx, roomID, before, svc.pageSize())
	return msgs, errors.Wrap(err, "querying messages")
}

func (svc *service) sendChatInviteMail(target, from user.User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: target.Name, Address: target.Email}},
		Subject:      fmt.Sprintf("%s wants to chat with you", from.Label()),
		TemplateName: "chat-invite",
		TemplateData: struct {
			User user.User
			From user.User
		}{target, from},
	})
}

func (svc *service) pageSize() int {
	if n := core.Conf.Chat.HistoryPageSize; n > 0 {
		return n
	}
	return 200
}

// SafeFilename reduces a client-supplied file name to its base name so it
// cannot traverse outside its upload directory.
func SafeFilename(name string) string {
	name = filepath.Base(filepath.FromSlash(name))
	if name == "." || name == ".." || name == "/" || name == "\\" {
		return "file"
	}
	return name
}

// upload stores an attachment under <bucket>/<roomID>/<unixts>_<filename>.
func (svc *service) upload(ctx context.Context, roomID string, f File) (Attachment, error) {
	path := fmt.Sprintf("%s/%d_%s", roomID, time.Now().Unix(), SafeFilename(f.Name))
	stored, err := svc.uploader.Upload(ctx, core.Conf.Chat.AttachmentsBucket, path, f)
	if err != nil {
		return Attachment{}, errors.Wrap(err, "uploading attachment")
	}
	return Attachment{
		URL:         stored.URL,
		Name:        f.Name,
		ContentType: stored.ContentType,
	}, nil
}
