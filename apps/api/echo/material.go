package echoapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/chat"
)

type materialApi struct {
	uploads chat.Uploader
}

func registerMaterialAPI(g *echo.Group, jwt echo.MiddlewareFunc, uploads chat.Uploader) {
	api := materialApi{uploads: uploads}

	mg := g.Group("/materials", jwt)
	mg.POST("", api.upload)
}

type MaterialResponse struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// upload stores a lesson material and returns where it is served from.
// Teachers and admins only; the materials policy bounds size and file type.
func (api materialApi) upload(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if !(claims.IsTeacher || claims.IsAdmin) {
		return errHttpForbidden
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: "file is required"})
	}
	src, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening upload")
	}
	defer src.Close()

	name := chat.SafeFilename(fh.Filename)
	stored, err := api.uploads.Upload(
		ctx.Request().Context(),
		core.Conf.Chat.LessonMaterialsBucket,
		fmt.Sprintf("%s/%d_%s", claims.Subject, time.Now().Unix(), name),
		chat.File{
			Name:        name,
			Size:        fh.Size,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Content:     src,
		},
	)
	switch cause := errors.Cause(err); {
	case err == nil:
	case cause == chat.ErrFileTooLarge || cause == chat.ErrFileTypeNotAllowed:
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: cause.Error()})
	default:
		return errors.Wrap(err, "storing material")
	}

	return ctx.JSON(http.StatusCreated, MaterialResponse{
		Name:        name,
		URL:         stored.URL,
		ContentType: stored.ContentType,
	})
}
