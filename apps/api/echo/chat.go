package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
)

type chatApi struct {
	svc    chat.Service
	usrSvc user.Service
	logger core.Logger
}

func registerChatAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc chat.Service, usrSvc user.Service, logger core.Logger) {
	api := chatApi{
		svc:    svc,
		usrSvc: usrSvc,
		logger: logger,
	}

	cg := g.Group("/chat", jwt)
	cg.GET("/rooms", api.queryRooms)
	cg.GET("/rooms/:id/messages", api.queryMessages)
	cg.POST("/direct", api.startDirect)

	// websocket clients cannot set headers; the token rides a query param
	g.GET("/chat/ws", api.connect, wsJWT())
}

// Handlers

func (api *chatApi) queryRooms(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rooms, err := api.svc.Rooms(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "querying rooms")
	}
	if search := core.CleanString(ctx.QueryParam("search")); search != "" {
		rooms = chat.FilterRooms(rooms, search, usr.ID)
	}
	if rooms == nil {
		rooms = []chat.Room{}
	}
	return ctx.JSON(http.StatusOK, rooms)
}

func (api *chatApi) queryMessages(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var before time.Time
	if raw := ctx.QueryParam("before"); raw != "" {
		if before, err = time.Parse(time.RFC3339, raw); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "before", Error: "must be an RFC3339 timestamp"})
		}
	}

	msgs, err := api.svc.History(ctx.Request().Context(), usr, ctx.Param("id"), before)
	if err != nil {
		if errors.Cause(err) == chat.ErrRoomNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "querying messages")
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *chatApi) startDirect(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data StartDirectRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartDirectRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	room, err := api.svc.StartDirect(ctx.Request().Context(), usr, data.UserID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: "unknown user"})
		}
		return errors.Wrap(err, "starting direct chat")
	}
	return ctx.JSON(http.StatusCreated, room)
}

type StartDirectRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (sd *StartDirectRequest) Validate() error {
	sd.UserID = core.CleanString(sd.UserID)
	return core.Validate.Struct(sd)
}
