package upload

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"consultchat/tools/errs"
)

// BlobStore 对象存储能力
type BlobStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (url string, err error)
}

// LocalStore writes blobs under Dir; the HTTP layer serves Dir at /files.
type LocalStore struct {
	Dir           string
	PublicBaseURL string // 例如 http://localhost:8080
}

func NewLocalStore(dir, publicBaseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(err, "create upload dir")
	}
	return &LocalStore{Dir: dir, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *LocalStore) Put(_ context.Context, name, _ string, r io.Reader) (string, error) {
	if name != filepath.Base(name) {
		return "", errs.ErrBadRequest.WrapMsg("bad object name", "name", name)
	}
	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", errs.IO(err, "create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", errs.IO(err, "write blob")
	}
	if err := tmp.Close(); err != nil {
		return "", errs.IO(err, "close blob")
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, name)); err != nil {
		return "", errs.IO(err, "rename blob")
	}
	return s.PublicBaseURL + "/files/" + name, nil
}
