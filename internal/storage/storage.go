package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"uniadmit/internal/common"
)

const MiB = 1 << 20

// Kind selects the size limit and the key prefix of an upload.
type Kind string

const (
	KindReceipt  Kind = "receipts"
	KindDocument Kind = "documents"
	KindLetter   Kind = "letters"
)

func (k Kind) MaxSize() int64 {
	if k == KindReceipt {
		return 5 * MiB
	}
	return 10 * MiB
}

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".doc":  true,
	".docx": true,
}

// Validate checks name and declared size before anything is written.
func Validate(kind Kind, filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if !allowedExtensions[ext] {
		return common.NewValidationError("unsupported file type", map[string]string{"file": "allowed types are pdf, jpg, jpeg, png, doc, docx"})
	}
	if size <= 0 {
		return common.NewValidationError("empty file", map[string]string{"file": "file is empty"})
	}
	if size > kind.MaxSize() {
		return common.NewError(common.CodePayloadTooLarge, fmt.Sprintf("file exceeds %d MB limit", kind.MaxSize()/MiB), nil)
	}
	return nil
}

// File is an upload that passed Validate.
type File struct {
	Name string
	Size int64
	Body io.Reader
}

// FileStore persists uploaded files and returns their public URL.
type FileStore interface {
	Save(ctx context.Context, kind Kind, owner common.UUID, file File) (string, error)
	Delete(ctx context.Context, url string) error
}
