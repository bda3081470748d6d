package vhd

import (
	"context"
	"io"
	"path/filepath"

	"github.com/vatesfr/xobackup/pkg/services/library"
)

// Library adapts this package's plain functions to the library.VHDLibrary
// interface injected into pkg/worker and pkg/catalog.
type Library struct{}

func NewLibrary() *Library { return &Library{} }

func (l *Library) List(_ context.Context, dir string) ([]string, error) {
	return List(dir)
}

func (l *Library) ReadHeader(_ context.Context, path string) (library.ParentLocator, error) {
	_, header, err := ReadHeaderAndFooter(path)
	if err != nil {
		return library.ParentLocator{}, err
	}
	if header == nil {
		return library.ParentLocator{}, nil
	}
	return library.ParentLocator{ParentUnicodeName: header.ParentUnicodeName}, nil
}

func (l *Library) Chain(_ context.Context, parentPath, childPath string) error {
	return Chain(parentPath, childPath)
}

func (l *Library) CreateSyntheticStream(_ context.Context, dir, path string) (io.ReadCloser, error) {
	return CreateSyntheticStream(dir, filepath.Base(path))
}
