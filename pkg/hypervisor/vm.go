package hypervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gofrs/uuid"
	"github.com/vatesfr/xobackup/internal/common/core"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"github.com/vatesfr/xobackup/pkg/services/library"
)

// Snapshot takes a named snapshot of a running or halted VM and
// returns the new snapshot's ref.
func (c *Client) Snapshot(ctx context.Context, vmRef, label string) (string, error) {
	var snapshotRef string
	err := c.Call(ctx, "vm.snapshot", map[string]any{
		"id":         vmRef,
		"name_label": label,
	}, &snapshotRef)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", vmRef, err)
	}
	return snapshotRef, nil
}

// Barrier forces the object cache to observe everything up to and
// including snapshotRef before returning, so a worker that just took a
// snapshot can immediately read its own write (§5).
func (c *Client) Barrier(ctx context.Context, snapshotRef string) error {
	if err := c.refreshAllObjects(ctx); err != nil {
		return err
	}
	c.mu.RLock()
	_, ok := c.objects[snapshotRef]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("hypervisor: barrier did not observe %s", snapshotRef)
	}
	return nil
}

// DeleteVM removes a VM record, optionally destroying its disks too
// (used both for snapshot cleanup and for failed-import rollback).
func (c *Client) DeleteVM(ctx context.Context, vmRef string, forceDestroyDisks bool) error {
	var ok bool
	return c.Call(ctx, "vm.delete", map[string]any{
		"id":                  vmRef,
		"destroyDisks":        forceDestroyDisks,
	}, &ok)
}

// AssertHealthyVDIChains asks the hypervisor to verify every VDI
// attached to vm has an intact, mergeable parent chain before a backup
// run is allowed to proceed (I2).
func (c *Client) AssertHealthyVDIChains(ctx context.Context, vm payloads.VM) error {
	for _, vbdRef := range vm.VBDs {
		var vbd payloads.VBD
		c.mu.RLock()
		raw, ok := c.objects[vbdRef.String()]
		c.mu.RUnlock()
		if !ok {
			continue
		}
		if err := decode(raw, &vbd); err != nil {
			return err
		}
		if vbd.VDI.IsNil() {
			continue
		}
		var healthy bool
		if err := c.Call(ctx, "vdi.assertHealthyVdiChain", map[string]any{"id": vbd.VDI.String()}, &healthy); err != nil {
			return fmt.Errorf("unhealthy VDI chain for %s: %w", vbd.VDI, err)
		}
	}
	return nil
}

// ExportVM starts a full VM export and returns the resulting stream
// plus the hypervisor task tracking it, mirroring exportVm's
// "stream with a task property" shape (§6.1).
func (c *Client) ExportVM(ctx context.Context, snapshotRef, compress string) (library.ExportHandle, error) {
	var resp struct {
		TaskRef string `mapstructure:"$taskId"`
	}
	if err := c.Call(ctx, "vm.export", map[string]any{
		"vm":       snapshotRef,
		"compress": compress,
	}, &resp); err != nil {
		return library.ExportHandle{}, fmt.Errorf("export %s: %w", snapshotRef, err)
	}

	stream, err := c.download(ctx, "export", map[string]string{"ref": snapshotRef})
	if err != nil {
		return library.ExportHandle{}, err
	}

	return library.ExportHandle{
		Stream: stream,
		Task:   &pollTask{client: c, ref: resp.TaskRef},
	}, nil
}

// ImportVM uploads a VM export stream to the given storage repository
// and returns the new VM's ref.
func (c *Client) ImportVM(ctx context.Context, stream io.Reader, srID string) (string, error) {
	return c.upload(ctx, "import", map[string]string{"sr": srID}, stream)
}

// ExportDeltaVM starts a delta export relative to baseSnapshotRef and
// returns one lazy stream factory per VDI.
func (c *Client) ExportDeltaVM(ctx context.Context, snapshotRef, baseSnapshotRef string) (library.DeltaExport, error) {
	vm, err := c.GetObject(ctx, snapshotRef)
	if err != nil {
		return library.DeltaExport{}, err
	}

	var vbds []payloads.VBD
	var vdis []payloads.VDI
	var vifs []payloads.VIF
	for _, ref := range vm.VBDs {
		c.mu.RLock()
		raw, ok := c.objects[ref.String()]
		c.mu.RUnlock()
		if !ok {
			continue
		}
		var vbd payloads.VBD
		if err := decode(raw, &vbd); err != nil {
			return library.DeltaExport{}, err
		}
		vbds = append(vbds, vbd)

		if vbd.VDI.IsNil() {
			continue
		}
		c.mu.RLock()
		vraw, ok := c.objects[vbd.VDI.String()]
		c.mu.RUnlock()
		if !ok {
			continue
		}
		var vdi payloads.VDI
		if err := decode(vraw, &vdi); err != nil {
			return library.DeltaExport{}, err
		}
		vdis = append(vdis, vdi)
	}

	return library.DeltaExport{
		VM:   vm,
		VBDs: vbds,
		VDIs: vdis,
		VIFs: vifs,
		Streams: func(vdiID uuid.UUID) (func() (library.ExportHandle, error), bool) {
			id := vdiID.String()
			found := false
			for _, vdi := range vdis {
				if vdi.UUID == vdiID {
					found = true
					break
				}
			}
			if !found {
				return nil, false
			}
			return func() (library.ExportHandle, error) {
				var resp struct {
					TaskRef string `mapstructure:"$taskId"`
				}
				if err := c.Call(ctx, "vdi.exportContent", map[string]any{
					"id":     id,
					"base":   baseSnapshotRef,
					"format": "vhd",
				}, &resp); err != nil {
					return library.ExportHandle{}, err
				}
				stream, err := c.download(ctx, "export-delta", map[string]string{"vdi": id, "base": baseSnapshotRef})
				if err != nil {
					return library.ExportHandle{}, err
				}
				return library.ExportHandle{
					Stream: stream,
					Task:   &pollTask{client: c, ref: resp.TaskRef},
				}, nil
			}, true
		},
	}, nil
}

// ImportDeltaVM replays a DeltaExport's streams into a new VM on the
// target storage repository.
func (c *Client) ImportDeltaVM(ctx context.Context, delta library.DeltaExport, opts library.ImportDeltaOptions) (string, error) {
	for _, vdi := range delta.VDIs {
		next, ok := delta.Streams(vdi.UUID)
		if !ok {
			continue
		}
		handle, err := next()
		if err != nil {
			return "", fmt.Errorf("open delta stream for %s: %w", vdi.UUID, err)
		}
		_, err = c.upload(ctx, "import-delta", map[string]string{
			"vdi": vdi.UUID.String(),
			"sr":  opts.SrID,
		}, handle.Stream)
		handle.Stream.Close()
		if err != nil {
			return "", err
		}
		if handle.Task != nil {
			if err := handle.Task.Wait(ctx); err != nil {
				return "", err
			}
		}
	}

	var vmRef string
	if err := c.Call(ctx, "vm.set", map[string]any{
		"id":               delta.VM.UUID.String(),
		"name_label":       opts.NameLabel,
		"startAfterImport": !opts.DisableStartAfterImport,
	}, &vmRef); err != nil {
		return "", err
	}
	return vmRef, nil
}

func (c *Client) endpoint(action string, query map[string]string) (string, error) {
	base, err := url.Parse(c.cfg.HypervisorURL)
	if err != nil {
		return "", core.ErrFailedToParseURL.WithArgs(err)
	}
	base.Path = fmt.Sprintf("/%s/%s", core.RestV0Path, action)

	q := base.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (c *Client) download(ctx context.Context, action string, query map[string]string) (io.ReadCloser, error) {
	endpoint, err := c.endpoint(action, query)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, core.ErrFailedToMakeRequest.WithArgs(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, core.ErrFailedToDoRequest.WithArgs(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("hypervisor %s: unexpected status %s", action, resp.Status)
	}
	return resp.Body, nil
}

func (c *Client) upload(ctx context.Context, action string, query map[string]string, body io.Reader) (string, error) {
	endpoint, err := c.endpoint(action, query)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return "", core.ErrFailedToMakeRequest.WithArgs(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", core.ErrFailedToDoRequest.WithArgs(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hypervisor %s: unexpected status %s", action, resp.Status)
	}
	ref, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.ErrFailedToReadResponseBody.WithArgs(err)
	}
	return string(ref), nil
}
