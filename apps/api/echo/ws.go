package echoapi

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	// origin checks are left to the fronting proxy
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsJWT accepts the token from the `token` query param as well; browser
// websocket clients cannot set the Authorization header.
func wsJWT() echo.MiddlewareFunc {
	conf := appJWTConfig
	conf.TokenLookup = "query:token,header:Authorization"
	return middleware.JWTWithConfig(conf)
}

// Inbound frames. One action per frame; file content rides base64-encoded.
type (
	wsCommand struct {
		Action  string  `json:"action"`
		RoomID  string  `json:"room_id,omitempty"`
		Text    string  `json:"text,omitempty"`
		LocalID string  `json:"local_id,omitempty"`
		UserID  string  `json:"user_id,omitempty"`
		File    *wsFile `json:"file,omitempty"`
	}

	wsFile struct {
		Name        string `json:"name"`
		ContentType string `json:"content_type,omitempty"`
		Data        []byte `json:"data"`
	}

	wsError struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
)

// connect upgrades the request and drives a chat.Client for the connection's
// lifetime: one reader applying commands, one writer draining the event
// stream. The client (and its room subscription) dies with the socket.
func (api *chatApi) connect(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading connection")
	}

	reqCtx := ctx.Request().Context()
	cli, err := api.svc.NewClient(reqCtx, usr)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "creating chat client")
	}
	defer cli.Close()
	defer conn.Close()

	// single writer; command errors are funneled through errs
	errs := make(chan string, 8)
	done := make(chan struct{})
	go api.writePump(conn, cli, errs, done)

	api.readPump(reqCtx, conn, cli, errs)
	close(done)
	return nil
}

func (api *chatApi) writePump(conn *websocket.Conn, cli *chat.Client, errs <-chan string, done <-chan struct{}) {
	// the directory is pushed first so the client can render immediately
	if err := conn.WriteJSON(chat.Event{Type: chat.EventRoom, Rooms: cli.Rooms()}); err != nil {
		return
	}
	for {
		select {
		case evt, ok := <-cli.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case msg := <-errs:
			if err := conn.WriteJSON(wsError{Type: "error", Error: msg}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (api *chatApi) readPump(ctx context.Context, conn *websocket.Conn, cli *chat.Client, errs chan<- string) {
	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if err := api.apply(ctx, cli, cmd); err != nil {
			select {
			case errs <- err.Error():
			default: // a client that cannot keep up loses error frames
			}
		}
	}
}

func (api *chatApi) apply(ctx context.Context, cli *chat.Client, cmd wsCommand) error {
	switch cmd.Action {
	case "select_room":
		return cli.SelectRoom(ctx, cmd.RoomID)
	case "close_room":
		cli.CloseRoom()
		return nil
	case "load_older":
		return cli.LoadOlder(ctx)
	case "send":
		return cli.Send(ctx, cmd.Text)
	case "resend":
		return cli.Resend(ctx, cmd.LocalID)
	case "attach":
		if cmd.File == nil {
			return errors.New("attach: missing file")
		}
		return cli.AttachFile(chat.File{
			Name:        cmd.File.Name,
			Size:        int64(len(cmd.File.Data)),
			ContentType: cmd.File.ContentType,
			Content:     bytes.NewReader(cmd.File.Data),
		})
	case "clear_attachment":
		cli.ClearAttachment()
		return nil
	case "start_direct":
		_, err := cli.StartDirect(ctx, cmd.UserID)
		return err
	default:
		return errors.Errorf("unknown action %q", cmd.Action)
	}
}
