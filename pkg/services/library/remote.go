package library

import (
	"context"
	"io"

	"github.com/vatesfr/xobackup/pkg/remote"
)

//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/remote.go -package=mock_library Remote
type Remote interface {
	List(ctx context.Context, path string) ([]string, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	OutputFile(ctx context.Context, path string, data []byte) error
	CreateReadStream(ctx context.Context, path string, opts remote.ReadStreamOptions) (io.ReadCloser, error)
	CreateOutputStream(ctx context.Context, path string, opts remote.OutputStreamOptions) (remote.OutputStream, error)
	Rename(ctx context.Context, oldPath, newPath string, withChecksum bool) error
	Unlink(ctx context.Context, path string, withChecksum bool) error
}
