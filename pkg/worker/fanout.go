package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vatesfr/xobackup/pkg/catalog"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"github.com/vatesfr/xobackup/pkg/remote"
	"github.com/vatesfr/xobackup/pkg/retention"
	"github.com/vatesfr/xobackup/pkg/services/library"
	"github.com/vatesfr/xobackup/pkg/streamfork"
	"github.com/vatesfr/xobackup/pkg/xoerrors"
	"go.uber.org/multierr"
)

// fanOutFull implements §4.8 step 9 for a full-mode export: one
// hypervisor stream, split via streamfork into one branch per remote
// and per SR target, written or imported concurrently.
func (w *Worker) fanOutFull(ctx context.Context, opts Options, s payloads.Settings, handle library.ExportHandle, now time.Time, stamp string) error {
	targets := w.targetList(opts)
	if len(targets) == 0 {
		return nil
	}

	branches := streamfork.Fork(ctx, handle.Stream, len(targets), 4)

	return fanOutTargets(ctx, len(targets), func(i int) error {
		// Draining on return keeps a target that stops early from
		// wedging the tee for its siblings.
		defer branches[i].Close()
		t := targets[i]
		if t.isSR {
			return w.fullToSR(ctx, t.id, opts, branches[i], stamp)
		}
		return w.fullToRemote(ctx, t.id, opts, s, branches[i], handle.Task, now, stamp)
	})
}

// fanOutDelta implements §4.8 step 9 for a delta-mode export. Every
// VDI's lazy stream factory is invoked exactly once regardless of how
// many targets consume it: the single resulting stream is forked
// across targets the same way the full-mode export stream is, so C7
// (stream fan-out) makes the delta path N-target-safe too.
func (w *Worker) fanOutDelta(ctx context.Context, opts Options, s payloads.Settings, delta library.DeltaExport, now time.Time, stamp string) error {
	targets := w.targetList(opts)
	if len(targets) == 0 {
		return nil
	}

	forks := make(map[string]*vdiFork, len(delta.VDIs))
	for _, vdi := range delta.VDIs {
		factory, ok := delta.Streams(vdi.UUID)
		if !ok {
			continue
		}
		handle, err := factory()
		if err != nil {
			return err
		}
		forks[vdi.UUID.String()] = &vdiFork{
			task:     handle.Task,
			branches: streamfork.Fork(ctx, handle.Stream, len(targets), 4),
		}
	}

	return fanOutTargets(ctx, len(targets), func(i int) error {
		defer func() {
			for _, f := range forks {
				_ = f.branches[i].Close()
			}
		}()
		t := targets[i]
		if t.isSR {
			return w.deltaToSR(ctx, t.id, opts, delta, forks, i, stamp)
		}
		return w.deltaToRemote(ctx, t.id, opts, s, delta, forks, i, now, stamp)
	})
}

type fanTarget struct {
	id   string
	isSR bool
}

type vdiFork struct {
	task     library.Task
	branches []*streamfork.Branch
}

func (w *Worker) targetList(opts Options) []fanTarget {
	var targets []fanTarget
	for _, id := range opts.Job.Remotes {
		targets = append(targets, fanTarget{id: id})
	}
	for _, id := range opts.Job.SRs {
		targets = append(targets, fanTarget{id: id, isSR: true})
	}
	return targets
}

func (w *Worker) catalogFor(remoteID string) (*catalog.Catalog, error) {
	r, ok := w.Remotes[remoteID]
	if !ok {
		return nil, xoerrors.New(xoerrors.ErrRemoteUnavailable, "remote %s not configured", remoteID)
	}
	return &catalog.Catalog{RemoteID: remoteID, Remote: r, VHD: w.VHD, Merge: w.Merge}, nil
}

// chainQuarantined reports whether any configured remote's delta chain
// for this VM/job/schedule carries a VHD quarantined by a prior failed
// merge. A quarantined VHD must never be chained onto again (§4.10 open
// question 2), so the caller forces a full-equivalent baseline instead.
func (w *Worker) chainQuarantined(ctx context.Context, opts Options) bool {
	for _, remoteID := range opts.Job.Remotes {
		cat, err := w.catalogFor(remoteID)
		if err != nil {
			continue
		}
		prior, err := cat.ListVM(ctx, remoteID, opts.VM.UUID.String(), func(m payloads.Metadata) bool {
			return m.Mode == payloads.ModeDelta && m.JobID == opts.Job.ID && m.ScheduleID == opts.Schedule.ID
		})
		if err != nil || len(prior) == 0 {
			continue
		}
		latest := prior[len(prior)-1].Metadata
		for vdiID, filename := range latest.VHDs {
			dir := catalog.VDIDir(opts.Job.ID, vdiID)
			if cat.IsQuarantined(ctx, path.Join(dir, filename)) {
				return true
			}
		}
	}
	return false
}

func metasOf(entries []catalog.Entry) []payloads.Metadata {
	out := make([]payloads.Metadata, len(entries))
	for i, e := range entries {
		out[i] = e.Metadata
	}
	return out
}

func (w *Worker) fullToRemote(ctx context.Context, remoteID string, opts Options, s payloads.Settings, source *streamfork.Branch, task library.Task, now time.Time, stamp string) error {
	cat, err := w.catalogFor(remoteID)
	if err != nil {
		return err
	}
	r := cat.Remote
	dir := catalog.BackupDir(opts.VM.UUID.String())

	prior, err := cat.ListVM(ctx, remoteID, opts.VM.UUID.String(), func(m payloads.Metadata) bool {
		return m.Mode == payloads.ModeFull && m.JobID == opts.Job.ID && m.ScheduleID == opts.Schedule.ID
	})
	if err != nil {
		return err
	}
	old := retention.OldEntries(s.ExportRetention, metasOf(prior))
	deleteOld := func() error { return deleteFullEntries(ctx, cat, old) }

	if s.DeleteFirst {
		if err := deleteOld(); err != nil {
			return err
		}
	}

	xvaName := stamp + ".xva"
	if err := remote.Write(ctx, r, source, task, path.Join(dir, xvaName), remote.WriteOptions{Checksum: true, Compress: opts.Job.Compression != ""}); err != nil {
		return err
	}

	meta := payloads.Metadata{
		JobID:      opts.Job.ID,
		ScheduleID: opts.Schedule.ID,
		Timestamp:  now.Unix(),
		Version:    payloads.MetadataVersion,
		VM:         opts.VM,
		Mode:       payloads.ModeFull,
		XVA:        xvaName,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := r.OutputFile(ctx, path.Join(dir, stamp+".json"), data); err != nil {
		return err
	}

	if !s.DeleteFirst {
		return deleteOld()
	}
	return nil
}

func (w *Worker) fullToSR(ctx context.Context, srID string, opts Options, source *streamfork.Branch, stamp string) error {
	vmRef, err := w.Hypervisor.ImportVM(ctx, source, srID)
	if err != nil {
		return err
	}
	return w.stampReplica(ctx, vmRef, opts, payloads.ReplicaRoleDisasterRecovery, stamp)
}

func (w *Worker) deltaToRemote(ctx context.Context, remoteID string, opts Options, s payloads.Settings, delta library.DeltaExport, forks map[string]*vdiFork, targetIdx int, now time.Time, stamp string) error {
	cat, err := w.catalogFor(remoteID)
	if err != nil {
		return err
	}
	r := cat.Remote

	prior, err := cat.ListVM(ctx, remoteID, opts.VM.UUID.String(), func(m payloads.Metadata) bool {
		return m.Mode == payloads.ModeDelta && m.JobID == opts.Job.ID && m.ScheduleID == opts.Schedule.ID
	})
	if err != nil {
		return err
	}
	old := retention.OldEntries(s.ExportRetention, metasOf(prior))
	deleteOld := func() error {
		var errs error
		for _, m := range old {
			if err := cat.DeleteDelta(ctx, opts.Job.ID, m); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		return errs
	}

	// Delta mode only deletes-first when at least one prior entry is
	// guaranteed to survive retention (ExportRetention > 1): with
	// ExportRetention == 1, OldEntries would mark every prior entry old,
	// and deleting the chain's parent before this VHD is written and
	// chained onto it would leave a dangling parentUnicodeName (I1). When
	// that guarantee doesn't hold, deletion is deferred below instead of
	// skipped outright.
	deletedEarly := false
	if s.DeleteFirst && s.ExportRetention > 1 {
		if err := deleteOld(); err != nil {
			return err
		}
		deletedEarly = true
	}

	var parent payloads.Metadata
	if len(prior) > 0 {
		parent = prior[len(prior)-1].Metadata
	}

	vhds := make(map[string]string, len(delta.VDIs))
	for _, vdi := range delta.VDIs {
		fork, ok := forks[vdi.UUID.String()]
		if !ok {
			continue
		}
		dir := catalog.VDIDir(opts.Job.ID, vdi.UUID.String())
		filename := stamp + ".vhd"
		finalPath := path.Join(dir, filename)

		if err := remote.Write(ctx, r, fork.branches[targetIdx], fork.task, finalPath, remote.WriteOptions{Checksum: false}); err != nil {
			return err
		}

		if parentName, ok := parent.VHDs[vdi.UUID.String()]; ok {
			if err := w.VHD.Chain(ctx, path.Join(dir, parentName), finalPath); err != nil {
				return err
			}
		}

		vhds[vdi.UUID.String()] = filename
	}

	meta := payloads.Metadata{
		JobID:      opts.Job.ID,
		ScheduleID: opts.Schedule.ID,
		Timestamp:  now.Unix(),
		Version:    payloads.MetadataVersion,
		VM:         opts.VM,
		VMSnapshot: delta.VM,
		Mode:       payloads.ModeDelta,
		VBDs:       delta.VBDs,
		VDIs:       delta.VDIs,
		VIFs:       delta.VIFs,
		VHDs:       vhds,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	dir := catalog.BackupDir(opts.VM.UUID.String())
	if err := r.OutputFile(ctx, path.Join(dir, stamp+".json"), data); err != nil {
		return err
	}

	if !deletedEarly {
		return deleteOld()
	}
	return nil
}

func (w *Worker) deltaToSR(ctx context.Context, srID string, opts Options, delta library.DeltaExport, forks map[string]*vdiFork, targetIdx int, stamp string) error {
	forTarget := library.DeltaExport{
		VM:   delta.VM,
		VBDs: delta.VBDs,
		VDIs: delta.VDIs,
		VIFs: delta.VIFs,
		Streams: func(vdiID uuid.UUID) (func() (library.ExportHandle, error), bool) {
			fork, ok := forks[vdiID.String()]
			if !ok {
				return nil, false
			}
			return func() (library.ExportHandle, error) {
				return library.ExportHandle{Stream: fork.branches[targetIdx], Task: fork.task}, nil
			}, true
		},
	}

	vmRef, err := w.Hypervisor.ImportDeltaVM(ctx, forTarget, library.ImportDeltaOptions{
		SrID:                    srID,
		NameLabel:               fmt.Sprintf("%s_%s", opts.VM.NameLabel, stamp),
		DisableStartAfterImport: true,
	})
	if err != nil {
		return err
	}
	return w.stampReplica(ctx, vmRef, opts, payloads.ReplicaRoleContinuousReplication, stamp)
}

// stampReplica relabels and tags a replicated VM after SR import: the
// human-readable role lives in the plain tags list (§4.8 step 9), the
// job/schedule/vm scoping markers live in other_config exactly like a
// snapshot's (§4.8 step 5).
func (w *Worker) stampReplica(ctx context.Context, vmRef string, opts Options, role payloads.ReplicaRole, stamp string) error {
	label := fmt.Sprintf("%s_%s", opts.VM.NameLabel, stamp)
	if err := w.Hypervisor.SetObjectProperties(ctx, vmRef, map[string]any{"name_label": label}); err != nil {
		return err
	}
	if err := w.Hypervisor.AddTag(ctx, vmRef, string(role)); err != nil {
		return err
	}

	jobID, scheduleID, vmUUID := opts.Job.ID, opts.Schedule.ID, opts.VM.UUID.String()
	return w.Hypervisor.UpdateObjectMapProperty(ctx, vmRef, "other_config", map[string]*string{
		payloads.TagBackupJob:      &jobID,
		payloads.TagBackupSchedule: &scheduleID,
		payloads.TagBackupVM:       &vmUUID,
	})
}

func deleteFullEntries(ctx context.Context, cat *catalog.Catalog, entries []payloads.Metadata) error {
	var errs error
	for _, m := range entries {
		if err := cat.DeleteFull(ctx, m); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
