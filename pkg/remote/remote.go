/*
Package remote defines the pluggable remote-storage abstraction (§6.2):
file operations with atomic rename and checksum sidecars. It also ships
one concrete implementation, LocalRemote, over a rooted directory.
*/
package remote

import (
	"context"
	"io"
)

// ReadStreamOptions configures CreateReadStream.
type ReadStreamOptions struct {
	Checksum              bool
	IgnoreMissingChecksum bool
}

// OutputStreamOptions configures CreateOutputStream.
type OutputStreamOptions struct {
	Checksum bool
}

// OutputStream is a writable stream that, when opened with Checksum,
// exposes a channel signalling once the checksum sidecar has been
// durably written.
type OutputStream interface {
	io.WriteCloser
	ChecksumWritten() <-chan error
}

// Remote is the capability set the atomic writer and the catalog need
// from a storage backend.
type Remote interface {
	// List enumerates entries directly under path. A missing directory
	// yields (nil, nil), never an error.
	List(ctx context.Context, path string) ([]string, error)

	ReadFile(ctx context.Context, path string) ([]byte, error)
	OutputFile(ctx context.Context, path string, data []byte) error

	CreateReadStream(ctx context.Context, path string, opts ReadStreamOptions) (io.ReadCloser, error)
	CreateOutputStream(ctx context.Context, path string, opts OutputStreamOptions) (OutputStream, error)

	Rename(ctx context.Context, oldPath, newPath string, withChecksum bool) error
	Unlink(ctx context.Context, path string, withChecksum bool) error
}
