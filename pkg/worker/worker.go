/*
Package worker implements the per-VM backup run (C8): snapshot, export,
fan-out to remotes and storage repositories, and retention rotation.
One Worker.Run call is one node in the state machine
ready → snapshotting → exporting → (per-target: transferring → rotating)
→ done | failed described in the spec's §4.8.
*/
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/vatesfr/xobackup/internal/common/logger"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"github.com/vatesfr/xobackup/pkg/retention"
	"github.com/vatesfr/xobackup/pkg/services/library"
	"github.com/vatesfr/xobackup/pkg/settings"
	"github.com/vatesfr/xobackup/pkg/tasklog"
	"github.com/vatesfr/xobackup/pkg/xoerrors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// timestampLayout produces the fixed-width, lexicographically sortable
// basename every on-disk artifact is keyed by.
const timestampLayout = "20060102T150405Z"

// Worker runs one VM's share of a job. All its collaborators are
// injected interfaces so tests run against fakes and a temporary
// LocalRemote, never a real hypervisor.
type Worker struct {
	Hypervisor library.Hypervisor
	Remotes    map[string]library.Remote // remote id -> adapter
	VHD        library.VHDLibrary
	Merge      library.MergeWorker
	TaskLog    *tasklog.Logger
	Log        *logger.Logger
}

// Options scopes one Run to a specific VM under a specific job/schedule.
type Options struct {
	VM           payloads.VM
	Job          payloads.Job
	Schedule     payloads.Schedule
	ParentTaskID string
	Now          time.Time
}

// Run executes the full per-VM algorithm (§4.8). It never panics on a
// sibling's behalf: the caller (pkg/executor) is responsible for not
// letting one VM's error cancel others.
func (w *Worker) Run(ctx context.Context, opts Options) error {
	result, err := w.TaskLog.Wrap(ctx, opts.ParentTaskID, tasklog.Opts{
		Message: "vm",
		Data:    map[string]string{"vm": opts.VM.UUID.String()},
	}, func(ctx context.Context, taskID string) (any, error) {
		return nil, w.run(ctx, taskID, opts)
	})
	_ = result
	return err
}

func (w *Worker) run(ctx context.Context, taskID string, opts Options) error {
	vmRef := opts.VM.UUID.String()

	s := settings.Get(opts.Job.Settings, vmRef, opts.Schedule.ID, "")
	if s.ExportRetention <= 0 && s.SnapshotRetention <= 0 {
		return xoerrors.New(xoerrors.ErrInvalidConfig, "vm %s: exportRetention and snapshotRetention are both zero", vmRef)
	}
	if s.ExportRetention > 0 && len(opts.Job.Remotes) == 0 && len(opts.Job.SRs) == 0 {
		return xoerrors.New(xoerrors.ErrInvalidConfig, "vm %s: export requested but no remotes or SRs configured", vmRef)
	}

	if s.VMTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.VMTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	unlock, err := w.lock(ctx, vmRef)
	if err != nil {
		return err
	}
	defer unlock()

	// Step 1: strip managed other_config keys left over from a prior run.
	clear := make(map[string]*string, len(payloads.ManagedTags()))
	for _, key := range payloads.ManagedTags() {
		if _, ok := opts.VM.OtherConfigValue(key); ok {
			clear[key] = nil
		}
	}
	if len(clear) > 0 {
		_ = w.Hypervisor.UpdateObjectMapProperty(ctx, vmRef, "other_config", clear)
	}

	// Step 3: prior snapshots for this job, oldest first.
	priorSnapshots, err := w.priorSnapshots(ctx, opts.Job.ID)
	if err != nil {
		return err
	}

	// Step 4: health check.
	if err := w.Hypervisor.AssertHealthyVDIChains(ctx, opts.VM); err != nil {
		return xoerrors.Wrap(xoerrors.ErrUnhealthyVDIChain, err)
	}

	// Step 5: snapshot.
	label := fmt.Sprintf("[XO Backup %s] %s", opts.Job.ID, opts.VM.NameLabel)
	snapshotRef, err := w.Hypervisor.Snapshot(ctx, vmRef, label)
	if err != nil {
		return err
	}

	jobID, scheduleID := opts.Job.ID, opts.Schedule.ID
	if err := w.Hypervisor.UpdateObjectMapProperty(ctx, snapshotRef, "other_config", map[string]*string{
		payloads.TagBackupJob:      &jobID,
		payloads.TagBackupSchedule: &scheduleID,
		payloads.TagBackupVM:       &vmRef,
	}); err != nil {
		return err
	}

	runErr := w.runWithSnapshot(ctx, taskID, opts, s, snapshotRef, priorSnapshots)

	// Deferred cleanup: retention over this job's snapshots. priorSnapshots
	// was gathered before this run's own snapshot existed, so it is
	// exactly the "sorted, excluding the entry about to be written" input
	// retention.OldEntries expects. snapshotRetention == 0 is a
	// success-only variant (P5): the snapshot just taken by this run is
	// itself deleted, but only once the export it backed has succeeded.
	if cleanupErr := w.rotateSnapshots(ctx, snapshotRef, priorSnapshots, s.SnapshotRetention, runErr == nil); cleanupErr != nil {
		w.Log.Debug("snapshot retention cleanup failed", zap.String("vm", vmRef), zap.Error(cleanupErr))
	}

	return runErr
}

func (w *Worker) runWithSnapshot(ctx context.Context, taskID string, opts Options, s payloads.Settings, snapshotRef string, priorSnapshots []payloads.VM) error {
	// Step 6: barrier.
	if err := w.Hypervisor.Barrier(ctx, snapshotRef); err != nil {
		return err
	}

	// Step 7: snapshot-only run.
	if s.ExportRetention <= 0 {
		return nil
	}

	targets := len(opts.Job.Remotes) + len(opts.Job.SRs)
	if targets == 0 {
		return nil
	}

	basename := opts.Now
	if basename.IsZero() {
		basename = time.Now()
	}
	stamp := basename.UTC().Format(timestampLayout)

	switch opts.Job.Mode {
	case payloads.ModeDelta:
		var baseRef string
		if len(priorSnapshots) > 0 {
			baseRef = priorSnapshots[len(priorSnapshots)-1].UUID.String()
		}
		if w.chainQuarantined(ctx, opts) {
			// A prior merge left a quarantined VHD in this VM's delta
			// chain (§4.10 open question 2): exporting against no base
			// snapshot forces a full-equivalent baseline for every VDI
			// instead of extending the broken chain.
			baseRef = ""
		}
		delta, err := w.Hypervisor.ExportDeltaVM(ctx, snapshotRef, baseRef)
		if err != nil {
			return err
		}
		return w.fanOutDelta(ctx, opts, s, delta, basename, stamp)
	default:
		handle, err := w.Hypervisor.ExportVM(ctx, snapshotRef, opts.Job.Compression)
		if err != nil {
			return err
		}
		defer handle.Stream.Close()
		return w.fanOutFull(ctx, opts, s, handle, basename, stamp)
	}
}

func (w *Worker) priorSnapshots(ctx context.Context, jobID string) ([]payloads.VM, error) {
	all, err := w.Hypervisor.AllObjects(ctx)
	if err != nil {
		return nil, err
	}
	var snaps []payloads.VM
	for _, vm := range all {
		if !vm.IsASnapshot {
			continue
		}
		if v, ok := vm.OtherConfigValue(payloads.TagBackupJob); ok && v == jobID {
			snaps = append(snaps, vm)
		}
	}
	sortByBackupTag(snaps)
	return snaps, nil
}

func sortByBackupTag(vms []payloads.VM) {
	for i := 1; i < len(vms); i++ {
		for j := i; j > 0 && vms[j].SnapshotTime.Time().Before(vms[j-1].SnapshotTime.Time()); j-- {
			vms[j], vms[j-1] = vms[j-1], vms[j]
		}
	}
}

func (w *Worker) rotateSnapshots(ctx context.Context, snapshotRef string, priorSnapshots []payloads.VM, keep int, runSucceeded bool) error {
	if keep <= 0 {
		// snapshotRetention == 0: no snapshot is meant to survive a
		// successful run at all (P5). A failed run leaves this run's
		// snapshot in place rather than deleting the one piece of
		// evidence useful for retrying or investigating the failure.
		if !runSucceeded {
			return nil
		}
		return w.Hypervisor.DeleteVM(ctx, snapshotRef, true)
	}
	old := retention.OldEntries(keep, priorSnapshots)
	var errs error
	for _, snap := range old {
		if err := w.Hypervisor.DeleteVM(ctx, snap.UUID.String(), true); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// fanOutTargets runs fn once per remote/SR target, concurrently,
// aggregating every error without letting one target's failure cancel
// its siblings (§4.8 step 9: "errors logged, not fatal to siblings").
func fanOutTargets(ctx context.Context, n int, fn func(i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	_ = ctx
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			errs[i] = fn(i)
			return nil
		})
	}
	_ = g.Wait()

	var out error
	for _, e := range errs {
		if e != nil {
			out = multierr.Append(out, e)
		}
	}
	return out
}
