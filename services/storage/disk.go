package filesvc

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/chat"
)

// Disk stores files under a local media directory and serves them from a
// static base URL.
type Disk struct {
	dir     string
	baseURL string
}

var _ chat.Uploader = (*Disk)(nil)

func NewDisk() *Disk {
	return &Disk{
		dir:     core.Conf.Media.Dir,
		baseURL: strings.TrimRight(core.Conf.Media.BaseURL, "/"),
	}
}

func NewDiskAt(dir, baseURL string) *Disk {
	return &Disk{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

func (d *Disk) Upload(ctx context.Context, bucket, path string, f chat.File) (chat.Stored, error) {
	data, err := io.ReadAll(f.Content)
	if err != nil {
		return chat.Stored{}, errors.Wrap(err, "reading upload")
	}

	ct := f.ContentType
	if ct == "" {
		ct = mimetype.Detect(data).String()
	}

	root := filepath.Join(d.dir, bucket)
	dst := filepath.Join(root, filepath.FromSlash(path))
	if !strings.HasPrefix(dst, root+string(filepath.Separator)) {
		return chat.Stored{}, errors.Errorf("upload path %q escapes the media root", path)
	}
	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return chat.Stored{}, errors.Wrap(err, "creating media directory")
	}
	if err = os.WriteFile(dst, data, 0o644); err != nil {
		return chat.Stored{}, errors.Wrap(err, "writing file")
	}

	return chat.Stored{
		URL:         d.baseURL + "/" + bucket + "/" + path,
		ContentType: ct,
	}, nil
}
