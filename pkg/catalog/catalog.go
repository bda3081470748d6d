/*
Package catalog implements the lister/importer/deleter (C10): listing
backups already stored on a remote, restoring them to a hypervisor, and
deleting them without ever leaving a dangling VHD chain (I1).
*/
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"github.com/vatesfr/xobackup/pkg/remote"
	"github.com/vatesfr/xobackup/pkg/services/library"
	"github.com/vatesfr/xobackup/pkg/xoerrors"
)

// Catalog operates over one remote at a time; the caller fans out
// across remotes itself (each remote is an independent root).
type Catalog struct {
	RemoteID string
	Remote   library.Remote
	VHD      library.VHDLibrary
	Merge    library.MergeWorker
}

// noopTask satisfies library.Task for a stream that has no
// hypervisor-side completion of its own to await (a locally
// reconstructed synthetic VHD, or a branch already awaited by a
// sibling consumer).
type noopTask struct{}

func (noopTask) Wait(context.Context) error { return nil }

// BackupDir is the per-VM root every sidecar and full-mode payload
// lives under.
func BackupDir(vmUUID string) string {
	return path.Join("xo-vm-backups", vmUUID)
}

// VDIDir is the per-job, per-VDI root delta-mode VHDs live under.
func VDIDir(jobID, vdiUUID string) string {
	return path.Join("vdis", jobID, vdiUUID)
}

// Entry is one listed backup: a parsed sidecar, plus its user-facing id
// and disk list.
type Entry struct {
	ID       string
	Disks    map[string]string
	Metadata payloads.Metadata
}

// ListVM enumerates every sidecar under one VM's backup directory,
// optionally filtered. A missing directory yields an empty list, not
// an error (§4.10).
func (c *Catalog) ListVM(ctx context.Context, remoteID, vmUUID string, filter func(payloads.Metadata) bool) ([]Entry, error) {
	dir := BackupDir(vmUUID)
	names, err := c.Remote.List(ctx, dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		sidecarPath := path.Join(dir, name)
		data, err := c.Remote.ReadFile(ctx, sidecarPath)
		if err != nil {
			continue
		}
		var m payloads.Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		m.Filename = sidecarPath
		if filter != nil && !filter(m) {
			continue
		}
		entries = append(entries, Entry{
			ID:       fmt.Sprintf("%s/%s", remoteID, sidecarPath),
			Disks:    m.Disks(),
			Metadata: m,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Metadata.Timestamp < entries[j].Metadata.Timestamp
	})
	return entries, nil
}

// ListAll enumerates every VM directory under xo-vm-backups on the
// remote.
func (c *Catalog) ListAll(ctx context.Context, remoteID string, filter func(payloads.Metadata) bool) ([]Entry, error) {
	vmDirs, err := c.Remote.List(ctx, "xo-vm-backups")
	if err != nil {
		return nil, err
	}

	var all []Entry
	for _, vmUUID := range vmDirs {
		entries, err := c.ListVM(ctx, remoteID, vmUUID, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// DeleteFull unlinks a full-mode backup's sidecar and payload.
func (c *Catalog) DeleteFull(ctx context.Context, m payloads.Metadata) error {
	dir := path.Dir(m.Filename)
	if m.XVA != "" {
		if err := c.Remote.Unlink(ctx, path.Join(dir, m.XVA), true); err != nil {
			return xoerrors.Wrap(xoerrors.ErrTransferFailed, err)
		}
	}
	return c.Remote.Unlink(ctx, m.Filename, false)
}

// DeleteDelta unlinks a delta-mode backup's sidecar, then safely
// removes every VHD it references (I1: never leave a broken chain).
func (c *Catalog) DeleteDelta(ctx context.Context, jobID string, m payloads.Metadata) error {
	if err := c.Remote.Unlink(ctx, m.Filename, false); err != nil {
		return err
	}

	var errs error
	for vdiID, filename := range m.VHDs {
		dir := VDIDir(jobID, vdiID)
		if err := c.safeDeleteVHD(ctx, dir, filename); err != nil {
			errs = appendErr(errs, err)
		}
	}
	return errs
}

// safeDeleteVHD implements §4.10's safe-delete-VHD: if a sibling VHD
// chains onto this one, merge it forward instead of unlinking it
// outright, so the chain never points at a missing parent.
func (c *Catalog) safeDeleteVHD(ctx context.Context, dir, name string) error {
	siblings, err := c.VHD.List(ctx, dir)
	if err != nil {
		return err
	}

	var child string
	for _, sibling := range siblings {
		if sibling == name {
			continue
		}
		locator, err := c.VHD.ReadHeader(ctx, path.Join(dir, sibling))
		if err != nil {
			continue
		}
		if locator.ParentUnicodeName == name {
			child = sibling
			break
		}
	}

	if child == "" {
		return c.Remote.Unlink(ctx, path.Join(dir, name), false)
	}

	parentPath := path.Join(dir, name)
	childPath := path.Join(dir, child)
	if err := c.Merge.MergeVHD(ctx, c.RemoteID, parentPath, c.RemoteID, childPath); err != nil {
		_ = c.quarantine(ctx, parentPath)
		return xoerrors.Wrap(xoerrors.ErrMergeFailed, err)
	}
	return c.Remote.Rename(ctx, parentPath, childPath, false)
}

// quarantine renames a VHD whose merge failed to <name>.tainted and
// leaves a marker so the next run for this (job, vdi) knows to fall
// back to a full export rather than retry the same broken chain
// (§9 open question 2).
func (c *Catalog) quarantine(ctx context.Context, path string) error {
	return c.Remote.Rename(ctx, path, path+".tainted", false)
}

// IsQuarantined reports whether a prior run left a .tainted marker for
// this VHD, or the VHD file exists but is empty, meaning the next
// backup must take a full export instead of extending this chain.
func (c *Catalog) IsQuarantined(ctx context.Context, path string) bool {
	_, err := c.Remote.ReadFile(ctx, path+".tainted")
	if err == nil {
		return true
	}
	data, err := c.Remote.ReadFile(ctx, path)
	return err == nil && len(data) == 0
}

// ImportFull restores a full-mode backup by streaming its XVA straight
// into the target SR.
func (c *Catalog) ImportFull(ctx context.Context, hv library.Hypervisor, m payloads.Metadata, srID string) (string, error) {
	if m.XVA == "" {
		return "", xoerrors.New(xoerrors.ErrNoSuchBackup, "metadata %s has no xva payload", m.Filename)
	}
	dir := path.Dir(m.Filename)
	stream, err := c.Remote.CreateReadStream(ctx, path.Join(dir, m.XVA), remote.ReadStreamOptions{})
	if err != nil {
		return "", err
	}
	defer stream.Close()
	return hv.ImportVM(ctx, stream, srID)
}

// ImportDelta restores a delta-mode backup by reconstructing each VDI's
// coalesced chain on the fly (§4.10's synthetic VHD stream) and handing
// the result to the hypervisor as one ordinary import.
func (c *Catalog) ImportDelta(ctx context.Context, hv library.Hypervisor, jobID string, m payloads.Metadata, srID string) (string, error) {
	delta := library.DeltaExport{
		VM:   m.VMSnapshot,
		VBDs: m.VBDs,
		VDIs: m.VDIs,
		VIFs: m.VIFs,
		Streams: func(vdiID uuid.UUID) (func() (library.ExportHandle, error), bool) {
			filename, ok := m.VHDs[vdiID.String()]
			if !ok {
				return nil, false
			}
			dir := VDIDir(jobID, vdiID.String())
			return func() (library.ExportHandle, error) {
				rc, err := c.VHD.CreateSyntheticStream(ctx, dir, filename)
				if err != nil {
					return library.ExportHandle{}, err
				}
				return library.ExportHandle{Stream: rc, Task: noopTask{}}, nil
			}, true
		},
	}

	return hv.ImportDeltaVM(ctx, delta, library.ImportDeltaOptions{
		SrID:                    srID,
		NameLabel:               m.VMSnapshot.NameLabel,
		DisableStartAfterImport: true,
	})
}

func appendErr(errs, next error) error {
	if errs == nil {
		return next
	}
	return fmt.Errorf("%w; %s", errs, next)
}
