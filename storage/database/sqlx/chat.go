package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/darasahq/darasa/core/chat"
)

const roomColumns = `
	id, name, kind, class_id, direct_key,
	last_msg_content, last_msg_sender_id, last_msg_sender_name, last_msg_sent_at,
	created_at, updated_at`

// dbRoom is the chat_room table row.
type dbRoom struct {
	ID                string      `db:"id"`
	Name              null.String `db:"name"`
	Kind              string      `db:"kind"`
	ClassID           null.String `db:"class_id"`
	DirectKey         null.String `db:"direct_key"`
	LastMsgContent    null.String `db:"last_msg_content"`
	LastMsgSenderID   null.String `db:"last_msg_sender_id"`
	LastMsgSenderName null.String `db:"last_msg_sender_name"`
	LastMsgSentAt     null.Time   `db:"last_msg_sent_at"`
	CreatedAt         time.Time   `db:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"`
}

func (r dbRoom) unpack() chat.Room {
	room := chat.Room{
		ID:        r.ID,
		Name:      r.Name.String,
		Kind:      chat.RoomKind(r.Kind),
		ClassID:   r.ClassID.String,
		DirectKey: r.DirectKey.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.LastMsgSentAt.Valid {
		room.LastMessage = &chat.MessagePreview{
			Content:    r.LastMsgContent.String,
			SenderID:   r.LastMsgSenderID.String,
			SenderName: r.LastMsgSenderName.String,
			SentAt:     r.LastMsgSentAt.Time,
		}
	}
	return room
}

// dbMessage is the chat_message table row joined with its sender's label.
type dbMessage struct {
	ID         string      `db:"id"`
	RoomID     string      `db:"room_id"`
	SenderID   string      `db:"sender_id"`
	SenderName null.String `db:"sender_name"`
	Content    string      `db:"content"`
	AttURL     null.String `db:"attachment_url"`
	AttName    null.String `db:"attachment_name"`
	AttCT      null.String `db:"attachment_content_type"`
	CreatedAt  time.Time   `db:"created_at"`
}

func (m dbMessage) unpack() chat.Message {
	msg := chat.Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName.String,
		Content:    m.Content,
		State:      chat.MessageSent,
		CreatedAt:  m.CreatedAt,
	}
	if m.AttURL.Valid {
		msg.Attachment = &chat.Attachment{
			URL:         m.AttURL.String,
			Name:        m.AttName.String,
			ContentType: m.AttCT.String,
		}
	}
	return msg
}

type chatRepository struct {
	db *sqlx.DB
}

var _ chat.Repository = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db *sqlx.DB) chat.Repository {
	return &chatRepository{db: db}
}

func (repo chatRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return chat.ErrRoomNotFound
	}
	return errors.Wrap(err, msg)
}

// resolveMembers loads member ids and profiles for every room, in one query.
func (repo chatRepository) resolveMembers(ctx context.Context, rooms []chat.Room) error {
	if len(rooms) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rooms))
	byID := make(map[string]*chat.Room, len(rooms))
	for i := range rooms {
		ids = append(ids, rooms[i].ID)
		byID[rooms[i].ID] = &rooms[i]
	}

	var rows []struct {
		RoomID string `db:"room_id"`
		dbUser
	}
	q := fmt.Sprintf(`
		SELECT m.room_id, %s
		FROM chat_room_member m
		JOIN "user" u ON u.id = m.user_id
		WHERE m.room_id = ANY($1)
		ORDER BY u.name`, prefixCols("u", userColumns))
	if err := repo.db.SelectContext(ctx, &rows, q, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "querying room members")
	}

	for _, row := range rows {
		room := byID[row.RoomID]
		room.MemberIDs = append(room.MemberIDs, row.dbUser.ID)
		room.Members = append(room.Members, row.dbUser.unpack())
	}
	return nil
}

func (repo chatRepository) QueryUserRooms(ctx context.Context, userID string) ([]chat.Room, error) {
	var rows []dbRoom
	q := fmt.Sprintf(`
		SELECT %s FROM chat_room
		WHERE id IN (SELECT room_id FROM chat_room_member WHERE user_id = $1)
		ORDER BY updated_at DESC`, roomColumns)
	if err := repo.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying user rooms")
	}

	rooms := make([]chat.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.unpack())
	}
	if err := repo.resolveMembers(ctx, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (repo chatRepository) GetRoom(ctx context.Context, roomID string) (chat.Room, error) {
	var row dbRoom
	q := fmt.Sprintf(`SELECT %s FROM chat_room WHERE id = $1`, roomColumns)
	if err := repo.db.GetContext(ctx, &row, q, roomID); err != nil {
		return chat.Room{}, repo.trapNoRowsErr(err, "finding room")
	}
	rooms := []chat.Room{row.unpack()}
	if err := repo.resolveMembers(ctx, rooms); err != nil {
		return chat.Room{}, err
	}
	return rooms[0], nil
}

func (repo chatRepository) GetDirectRoomByKey(ctx context.Context, key string) (chat.Room, error) {
	var row dbRoom
	q := fmt.Sprintf(`SELECT %s FROM chat_room WHERE direct_key = $1`, roomColumns)
	if err := repo.db.GetContext(ctx, &row, q, key); err != nil {
		return chat.Room{}, repo.trapNoRowsErr(err, "finding direct room")
	}
	rooms := []chat.Room{row.unpack()}
	if err := repo.resolveMembers(ctx, rooms); err != nil {
		return chat.Room{}, err
	}
	return rooms[0], nil
}

func (repo chatRepository) CreateRoom(ctx context.Context, room chat.Room) (chat.Room, error) {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return chat.Room{}, errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	q := `
		INSERT INTO chat_room (id, name, kind, class_id, direct_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.ExecContext(ctx, q,
		room.ID,
		null.NewString(room.Name, room.Name != ""),
		string(room.Kind),
		null.NewString(room.ClassID, room.ClassID != ""),
		null.NewString(room.DirectKey, room.DirectKey != ""),
		room.CreatedAt.UTC(),
		room.UpdatedAt.UTC(),
	)
	if err != nil {
		return chat.Room{}, errors.Wrap(err, "inserting room")
	}

	for _, uid := range room.MemberIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_room_member (room_id, user_id) VALUES ($1, $2)`, room.ID, uid); err != nil {
			return chat.Room{}, errors.Wrap(err, "inserting room member")
		}
	}

	if err = tx.Commit(); err != nil {
		return chat.Room{}, errors.Wrap(err, "committing room")
	}
	return room, nil
}

func (repo chatRepository) QueryMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]chat.Message, error) {
	args := []interface{}{roomID, limit}
	cond := ""
	if !before.IsZero() {
		cond = "AND m.created_at < $3"
		args = append(args, before.UTC())
	}

	// newest window first, then flipped to oldest-first
	q := fmt.Sprintf(`
		SELECT m.id, m.room_id, m.sender_id,
		       COALESCE(NULLIF(u.name, ''), u.email) AS sender_name,
		       m.content, m.attachment_url, m.attachment_name, m.attachment_content_type,
		       m.created_at
		FROM chat_message m
		LEFT JOIN "user" u ON u.id = m.sender_id
		WHERE m.room_id = $1 %s
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT $2`, cond)

	var rows []dbMessage
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}

	msgs := make([]chat.Message, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = row.unpack()
	}
	return msgs, nil
}

func (repo chatRepository) InsertMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg.ID = uuid.New().String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	var att chat.Attachment
	if msg.Attachment != nil {
		att = *msg.Attachment
	}
	q := `
		INSERT INTO chat_message (id, room_id, sender_id, content, attachment_url, attachment_name, attachment_content_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := repo.db.ExecContext(ctx, q,
		msg.ID,
		msg.RoomID,
		msg.SenderID,
		msg.Content,
		null.NewString(att.URL, att.URL != ""),
		null.NewString(att.Name, att.Name != ""),
		null.NewString(att.ContentType, att.ContentType != ""),
		msg.CreatedAt,
	)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "inserting message")
	}

	msg.LocalID = ""
	msg.State = chat.MessageSent
	return msg, nil
}

func (repo chatRepository) SetRoomLastMessage(ctx context.Context, roomID string, pv chat.MessagePreview) error {
	q := `
		UPDATE chat_room
		SET last_msg_content = $2, last_msg_sender_id = $3, last_msg_sender_name = $4, last_msg_sent_at = $5
		WHERE id = $1`
	if _, err := repo.db.ExecContext(ctx, q, roomID, pv.Content, pv.SenderID, pv.SenderName, pv.SentAt.UTC()); err != nil {
		return errors.Wrap(err, "updating room last message")
	}
	return nil
}

func (repo chatRepository) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	q := `UPDATE chat_room SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`
	if _, err := repo.db.ExecContext(ctx, q, roomID, at.UTC()); err != nil {
		return errors.Wrap(err, "touching room")
	}
	return nil
}

// prefixCols qualifies a comma-separated column list with a table alias.
func prefixCols(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}
