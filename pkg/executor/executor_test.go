package executor_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vatesfr/xobackup/internal/common/logger"
	"github.com/vatesfr/xobackup/pkg/executor"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"github.com/vatesfr/xobackup/pkg/services/library"
	"github.com/vatesfr/xobackup/pkg/tasklog"
	"github.com/vatesfr/xobackup/pkg/worker"
	"github.com/vatesfr/xobackup/pkg/xoerrors"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(false)
	require.NoError(t, err)
	return l
}

// snapshotOnlyHypervisor supports exactly the calls a snapshot-only
// (ExportRetention == 0) Worker.Run makes, failing fast for any VM ref
// that was seeded to fail its health check.
type snapshotOnlyHypervisor struct {
	mu        sync.Mutex
	objects   map[string]payloads.VM
	unhealthy map[string]bool
}

func newSnapshotOnlyHypervisor(vms ...payloads.VM) *snapshotOnlyHypervisor {
	h := &snapshotOnlyHypervisor{objects: map[string]payloads.VM{}, unhealthy: map[string]bool{}}
	for _, vm := range vms {
		h.objects[vm.UUID.String()] = vm
	}
	return h
}

func (h *snapshotOnlyHypervisor) GetObject(_ context.Context, ref string) (payloads.VM, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.objects[ref], nil
}

func (h *snapshotOnlyHypervisor) AllObjects(context.Context) (map[string]payloads.VM, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]payloads.VM, len(h.objects))
	for k, v := range h.objects {
		out[k] = v
	}
	return out, nil
}

func (h *snapshotOnlyHypervisor) Snapshot(_ context.Context, vmRef, _ string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := h.objects[vmRef]
	snap.UUID = uuid.Must(uuid.NewV4())
	snap.IsASnapshot = true
	snap.OtherConfig = map[string]string{}
	h.objects[snap.UUID.String()] = snap
	return snap.UUID.String(), nil
}

func (h *snapshotOnlyHypervisor) Barrier(context.Context, string) error { return nil }

func (h *snapshotOnlyHypervisor) DeleteVM(_ context.Context, vmRef string, _ bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.objects, vmRef)
	return nil
}

func (h *snapshotOnlyHypervisor) AssertHealthyVDIChains(_ context.Context, vm payloads.VM) error {
	if h.unhealthy[vm.UUID.String()] {
		return xoerrors.New(xoerrors.ErrUnhealthyVDIChain, "vm %s", vm.UUID.String())
	}
	return nil
}

func (h *snapshotOnlyHypervisor) ExportVM(context.Context, string, string) (library.ExportHandle, error) {
	return library.ExportHandle{Stream: io.NopCloser(nil)}, nil
}
func (h *snapshotOnlyHypervisor) ImportVM(context.Context, io.Reader, string) (string, error) {
	return "", nil
}
func (h *snapshotOnlyHypervisor) ExportDeltaVM(context.Context, string, string) (library.DeltaExport, error) {
	return library.DeltaExport{}, nil
}
func (h *snapshotOnlyHypervisor) ImportDeltaVM(context.Context, library.DeltaExport, library.ImportDeltaOptions) (string, error) {
	return "", nil
}

func (h *snapshotOnlyHypervisor) UpdateObjectMapProperty(_ context.Context, ref, property string, updates map[string]*string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	vm, ok := h.objects[ref]
	if !ok || property != "other_config" {
		return nil
	}
	if vm.OtherConfig == nil {
		vm.OtherConfig = map[string]string{}
	}
	for k, v := range updates {
		if v == nil {
			delete(vm.OtherConfig, k)
		} else {
			vm.OtherConfig[k] = *v
		}
	}
	h.objects[ref] = vm
	return nil
}

func (h *snapshotOnlyHypervisor) SetObjectProperties(context.Context, string, map[string]any) error {
	return nil
}
func (h *snapshotOnlyHypervisor) AddTag(context.Context, string, string) error    { return nil }
func (h *snapshotOnlyHypervisor) RemoveTag(context.Context, string, string) error { return nil }
func (h *snapshotOnlyHypervisor) GetStorageRepository(context.Context, string) (payloads.SR, error) {
	return payloads.SR{}, nil
}

func newTestExecutor(t *testing.T, hv *snapshotOnlyHypervisor) *executor.Executor {
	t.Helper()
	log := newTestLogger(t)
	return &executor.Executor{
		NewWorker: func() *worker.Worker {
			return &worker.Worker{
				Hypervisor: hv,
				Remotes:    map[string]library.Remote{},
				TaskLog:    tasklog.New(func(tasklog.Event) {}, log),
				Log:        log,
			}
		},
		TaskLog: tasklog.New(func(tasklog.Event) {}, log),
		Log:     log,
	}
}

func retentionOnly(snapshotRetention int) map[string]payloads.SettingsPatch {
	sr := snapshotRetention
	return map[string]payloads.SettingsPatch{"": {SnapshotRetention: &sr}}
}

func TestRunReturnsNoVMsMatchWhenPredicateMatchesNothing(t *testing.T) {
	e := newTestExecutor(t, newSnapshotOnlyHypervisor())
	job := payloads.Job{ID: "job-1", VMs: func(payloads.VM) bool { return false }}

	err := e.Run(context.Background(), job, payloads.Schedule{}, []payloads.VM{{UUID: uuid.Must(uuid.NewV4())}})
	require.ErrorIs(t, err, xoerrors.ErrNoVMsMatchPattern)
}

func TestRunSkipsTemplatesAndSnapshots(t *testing.T) {
	regular := payloads.VM{UUID: uuid.Must(uuid.NewV4()), NameLabel: "regular"}
	template := payloads.VM{UUID: uuid.Must(uuid.NewV4()), NameLabel: "template", IsATemplate: true}
	snapshot := payloads.VM{UUID: uuid.Must(uuid.NewV4()), NameLabel: "snap", IsASnapshot: true}

	hv := newSnapshotOnlyHypervisor(regular, template, snapshot)
	e := newTestExecutor(t, hv)

	job := payloads.Job{ID: "job-1", VMs: func(payloads.VM) bool { return true }, Settings: retentionOnly(1)}
	err := e.Run(context.Background(), job, payloads.Schedule{}, []payloads.VM{regular, template, snapshot})
	require.NoError(t, err)

	all, _ := hv.AllObjects(context.Background())
	var snapCount int
	for _, o := range all {
		if o.IsASnapshot {
			snapCount++
		}
	}
	// Only "regular" should have been snapshotted: template and the
	// pre-existing snapshot are filtered out before any Worker runs.
	require.Equal(t, 2, snapCount)
}

func TestRunAggregatesErrorsWithoutStoppingSiblings(t *testing.T) {
	healthy := payloads.VM{UUID: uuid.Must(uuid.NewV4()), NameLabel: "healthy"}
	broken := payloads.VM{UUID: uuid.Must(uuid.NewV4()), NameLabel: "broken"}

	hv := newSnapshotOnlyHypervisor(healthy, broken)
	hv.unhealthy[broken.UUID.String()] = true
	e := newTestExecutor(t, hv)

	job := payloads.Job{ID: "job-1", VMs: func(payloads.VM) bool { return true }, Settings: retentionOnly(1)}
	err := e.Run(context.Background(), job, payloads.Schedule{}, []payloads.VM{healthy, broken})

	require.Error(t, err)
	require.ErrorIs(t, err, xoerrors.ErrUnhealthyVDIChain)

	all, _ := hv.AllObjects(context.Background())
	var snapCount int
	for _, o := range all {
		if o.IsASnapshot {
			snapCount++
		}
	}
	require.Equal(t, 1, snapCount, "the healthy VM's snapshot must still have been taken")
}
