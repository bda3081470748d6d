package remote

import (
	"context"
	"io"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/vatesfr/xobackup/pkg/xoerrors"
)

// SourceTask represents the hypervisor-side export completion a write
// must also wait on, so an error on the source (not just the local
// pipe) surfaces before the rename commits the file as live.
type SourceTask interface {
	Wait(ctx context.Context) error
}

// WriteOptions configures one atomic write.
type WriteOptions struct {
	Checksum bool
	Compress bool // full mode only
}

// Write streams source to remote at a dotted temporary name, then
// renames it to finalPath on success. On any failure the temporary
// file is unlinked and the original error is returned wrapped as
// xoerrors.ErrTransferFailed. The rename is the commit point for the
// "sidecar only visible after payload durably renamed" invariant.
func Write(ctx context.Context, r Remote, source io.Reader, task SourceTask, finalPath string, opts WriteOptions) error {
	tmpPath := dottedPath(finalPath)

	stream, err := r.CreateOutputStream(ctx, tmpPath, OutputStreamOptions{Checksum: opts.Checksum})
	if err != nil {
		return xoerrors.Wrap(xoerrors.ErrTransferFailed, err)
	}

	writeErr := copySource(stream, source, opts.Compress)

	if closeErr := stream.Close(); writeErr == nil {
		writeErr = closeErr
	}

	if writeErr == nil {
		writeErr = <-stream.ChecksumWritten()
	}

	if writeErr == nil && task != nil {
		writeErr = task.Wait(ctx)
	}

	if writeErr != nil {
		_ = r.Unlink(ctx, tmpPath, opts.Checksum)
		return xoerrors.Wrap(xoerrors.ErrTransferFailed, writeErr)
	}

	if err := r.Rename(ctx, tmpPath, finalPath, opts.Checksum); err != nil {
		_ = r.Unlink(ctx, tmpPath, opts.Checksum)
		return xoerrors.Wrap(xoerrors.ErrTransferFailed, err)
	}
	return nil
}

func copySource(dst io.Writer, source io.Reader, compress bool) error {
	if !compress {
		_, err := io.Copy(dst, source)
		return err
	}

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, source); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func dottedPath(finalPath string) string {
	dir, base := filepath.Split(finalPath)
	return filepath.Join(dir, "."+base)
}
