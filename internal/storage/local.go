package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"uniadmit/internal/common"
)

// LocalStore keeps files under dir and serves them from baseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.NewError(common.CodeInternal, "failed to prepare upload directory", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Save(ctx context.Context, kind Kind, owner common.UUID, file File) (string, error) {
	if err := Validate(kind, file.Name, file.Size); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := path.Join(string(kind), owner.String(), common.NewUUID().String()+strings.ToLower(filepath.Ext(file.Name)))
	target := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", common.NewError(common.CodeInternal, "failed to store file", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return "", common.NewError(common.CodeInternal, "failed to store file", err)
	}
	// Declared sizes come from the client; enforce the limit on the bytes actually read.
	written, copyErr := io.Copy(out, io.LimitReader(file.Body, kind.MaxSize()+1))
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(target)
		return "", common.NewError(common.CodeInternal, "failed to store file", copyErr)
	case closeErr != nil:
		_ = os.Remove(target)
		return "", common.NewError(common.CodeInternal, "failed to store file", closeErr)
	case written > kind.MaxSize():
		_ = os.Remove(target)
		return "", Validate(kind, file.Name, written)
	case written == 0:
		_ = os.Remove(target)
		return "", Validate(kind, file.Name, 0)
	}
	return s.baseURL + "/" + key, nil
}

func (s *LocalStore) Delete(ctx context.Context, url string) error {
	key := strings.TrimPrefix(strings.TrimPrefix(url, s.baseURL), "/")
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" {
		return common.NewError(common.CodeValidation, "invalid file url", nil)
	}
	target := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return common.NewError(common.CodeInternal, "failed to delete file", err)
	}
	return nil
}
