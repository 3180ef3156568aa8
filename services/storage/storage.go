// Package filesvc stores uploaded files behind the chat.Uploader interface.
package filesvc

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/chat"
)

// Policy bounds what may be uploaded. A zero MaxSize means unbounded; an
// empty AllowedExts allows any extension.
type Policy struct {
	MaxSize     int64
	AllowedExts []string
}

func (p Policy) Check(name string, size int64) error {
	if p.MaxSize > 0 && size > p.MaxSize {
		return chat.ErrFileTooLarge
	}
	if len(p.AllowedExts) > 0 {
		ext := strings.ToLower(filepath.Ext(name))
		for _, allowed := range p.AllowedExts {
			if ext == strings.ToLower(allowed) {
				return nil
			}
		}
		return chat.ErrFileTypeNotAllowed
	}
	return nil
}

// ChatAttachmentsPolicy allows any file type up to the messaging ceiling.
func ChatAttachmentsPolicy() Policy {
	return Policy{MaxSize: core.Conf.Chat.AttachmentMaxSize}
}

// LessonMaterialsPolicy allows course material formats up to their own ceiling.
func LessonMaterialsPolicy() Policy {
	return Policy{
		MaxSize:     core.Conf.Chat.MaterialMaxSize,
		AllowedExts: core.Conf.Chat.MaterialAllowedExts,
	}
}

// PolicyUploader enforces a Policy in front of another uploader.
type PolicyUploader struct {
	Policy   Policy
	Uploader chat.Uploader
}

var _ chat.Uploader = (*PolicyUploader)(nil)

func (pu PolicyUploader) Upload(ctx context.Context, bucket, path string, f chat.File) (chat.Stored, error) {
	if err := pu.Policy.Check(f.Name, f.Size); err != nil {
		return chat.Stored{}, err
	}
	stored, err := pu.Uploader.Upload(ctx, bucket, path, f)
	if err != nil {
		return chat.Stored{}, errors.Wrap(err, fmt.Sprintf("uploading %q", f.Name))
	}
	return stored, nil
}
