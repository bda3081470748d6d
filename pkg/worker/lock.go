package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/vatesfr/xobackup/pkg/remote"
	"github.com/vatesfr/xobackup/pkg/services/library"
	"github.com/vatesfr/xobackup/pkg/xoerrors"
)

type lockHold struct {
	remote library.Remote
	stream remote.OutputStream
}

// lock acquires the advisory per-VM lock file on every remote
// configured on this worker (w.Remotes), failing fast if any of them is already held
// by a concurrent run rather than risk corrupting it (§9 open question
// 1). Exclusive creation is the commit point: CreateOutputStream opens
// with O_EXCL, so its failure with "file exists" is the contention
// signal.
func (w *Worker) lock(ctx context.Context, vmRef string) (func(), error) {
	path := fmt.Sprintf("%s/.lock", vmRef)

	var held []lockHold
	unlock := func() {
		for _, h := range held {
			_ = h.stream.Close()
			_ = h.remote.Unlink(ctx, path, false)
		}
	}

	for id, r := range w.Remotes {
		stream, err := r.CreateOutputStream(ctx, path, remote.OutputStreamOptions{Checksum: false})
		if err != nil {
			if os.IsExist(err) {
				unlock()
				return nil, xoerrors.WrapMessage(xoerrors.ErrRemoteUnavailable, fmt.Sprintf("vm %s locked on remote %s", vmRef, id), err)
			}
			unlock()
			return nil, err
		}
		held = append(held, lockHold{remote: r, stream: stream})
	}

	return unlock, nil
}
