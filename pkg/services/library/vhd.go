package library

import (
	"context"
	"io"
)

// ParentLocator is the subset of a VHD's dynamic-disk header the core
// needs to walk and splice chains.
type ParentLocator struct {
	ParentUnicodeName string
}

//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/vhd.go -package=mock_library VHDLibrary
type VHDLibrary interface {
	// List enumerates the VHDs in a VDI directory, sorted
	// chronologically.
	List(ctx context.Context, dir string) ([]string, error)

	// ReadHeader returns the parent-locator view of a VHD.
	ReadHeader(ctx context.Context, path string) (ParentLocator, error)

	// Chain splices childPath's parent-locator fields to point at
	// parentPath. Idempotent.
	Chain(ctx context.Context, parentPath, childPath string) error

	// CreateSyntheticStream produces a single stream of the coalesced
	// chain from path (child-most) up through its parents, for
	// restoring a delta chain to a full disk image. The stream is the
	// raw disk blocks in order; it carries no VHD footer or header.
	CreateSyntheticStream(ctx context.Context, dir, path string) (io.ReadCloser, error)
}
