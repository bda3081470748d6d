package remote_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vatesfr/xobackup/pkg/remote"
)

func TestLocalRemoteWriteThenRename(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	r := remote.NewLocalRemote(root)

	source := bytes.NewBufferString("hello backup")
	err := remote.Write(ctx, r, source, nil, "xo-vm-backups/vm-1/20240101T000000Z.xva", remote.WriteOptions{Checksum: true})
	require.NoError(t, err)

	data, err := r.ReadFile(ctx, "xo-vm-backups/vm-1/20240101T000000Z.xva")
	require.NoError(t, err)
	require.Equal(t, "hello backup", string(data))

	_, err = os.Stat(filepath.Join(root, "xo-vm-backups/vm-1/20240101T000000Z.xva.checksum"))
	require.NoError(t, err)

	stream, err := r.CreateReadStream(ctx, "xo-vm-backups/vm-1/20240101T000000Z.xva", remote.ReadStreamOptions{Checksum: true})
	require.NoError(t, err)
	defer stream.Close()
	roundtrip := make([]byte, len("hello backup"))
	_, err = stream.Read(roundtrip)
	require.NoError(t, err)
	require.Equal(t, "hello backup", string(roundtrip))
}

type failingTask struct{ err error }

func (f failingTask) Wait(ctx context.Context) error { return f.err }

func TestWriteUnlinksTempFileOnSourceTaskFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	r := remote.NewLocalRemote(root)

	err := remote.Write(ctx, r, bytes.NewBufferString("partial"), failingTask{err: assertErr}, "vm-1/payload.xva", remote.WriteOptions{})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(root, "vm-1", ".payload.xva"))
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(root, "vm-1", "payload.xva"))
	require.True(t, os.IsNotExist(statErr))
}

var assertErr = context.DeadlineExceeded

func TestListMissingDirIsEmptyNotError(t *testing.T) {
	r := remote.NewLocalRemote(t.TempDir())
	entries, err := r.List(context.Background(), "xo-vm-backups")
	require.NoError(t, err)
	require.Empty(t, entries)
}
