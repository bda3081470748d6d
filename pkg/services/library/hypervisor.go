/*
Package library collects the interfaces injected into the backup
engine: the hypervisor client, the remote filesystem abstraction, the
VHD library, and the merge worker. Each has a concrete adapter package
elsewhere (pkg/hypervisor, pkg/remote, pkg/vhd, pkg/mergeworker); the
worker, executor and catalog tests use hand-written fakes of them.
*/
package library

import (
	"context"
	"io"

	"github.com/gofrs/uuid"
	"github.com/vatesfr/xobackup/pkg/payloads"
)

// ExportHandle is a single export stream plus the hypervisor-side task
// that must also be awaited before the transfer can be considered
// durable (§6.1 exportVm's "stream with a task property").
type ExportHandle struct {
	Stream io.ReadCloser
	Task   Task
}

// DeltaExport is the result of exportDeltaVm: one lazy stream factory
// per VDI, plus the device topology snapshot needed to write the
// metadata sidecar.
type DeltaExport struct {
	Streams func(vdiID uuid.UUID) (func() (ExportHandle, error), bool)
	VBDs    []payloads.VBD
	VDIs    []payloads.VDI
	VIFs    []payloads.VIF
	VM      payloads.VM
}

// Task represents an asynchronous hypervisor-side operation (export,
// import, snapshot) that the core must be able to await independently
// of local I/O completing.
type Task interface {
	Wait(ctx context.Context) error
}

// ImportDeltaOptions configures importDeltaVm.
type ImportDeltaOptions struct {
	DisableStartAfterImport bool
	NameLabel               string
	SrID                    string
}

//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/hypervisor.go -package=mock_library Hypervisor
type Hypervisor interface {
	GetObject(ctx context.Context, ref string) (payloads.VM, error)
	AllObjects(ctx context.Context) (map[string]payloads.VM, error)

	Snapshot(ctx context.Context, vmRef, label string) (string, error)
	Barrier(ctx context.Context, snapshotRef string) error
	DeleteVM(ctx context.Context, vmRef string, forceDestroyDisks bool) error
	AssertHealthyVDIChains(ctx context.Context, vm payloads.VM) error

	ExportVM(ctx context.Context, snapshotRef string, compress string) (ExportHandle, error)
	ImportVM(ctx context.Context, stream io.Reader, srID string) (string, error)
	ExportDeltaVM(ctx context.Context, snapshotRef, baseSnapshotRef string) (DeltaExport, error)
	ImportDeltaVM(ctx context.Context, delta DeltaExport, opts ImportDeltaOptions) (string, error)

	UpdateObjectMapProperty(ctx context.Context, ref, property string, updates map[string]*string) error
	SetObjectProperties(ctx context.Context, ref string, properties map[string]any) error
	AddTag(ctx context.Context, ref, tag string) error
	RemoveTag(ctx context.Context, ref, tag string) error

	GetStorageRepository(ctx context.Context, id string) (payloads.SR, error)
}
