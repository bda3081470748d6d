package catalog_test

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vatesfr/xobackup/pkg/catalog"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"github.com/vatesfr/xobackup/pkg/remote"
	"github.com/vatesfr/xobackup/pkg/services/library"
)

// fakeVHD simulates a two-link chain: names lists the sibling VHDs in
// a directory, headers maps a full path to the parent locator that
// path's header would report.
type fakeVHD struct {
	names   []string
	headers map[string]library.ParentLocator
}

func (f *fakeVHD) List(context.Context, string) ([]string, error) { return f.names, nil }

func (f *fakeVHD) ReadHeader(_ context.Context, path string) (library.ParentLocator, error) {
	return f.headers[path], nil
}

func (f *fakeVHD) Chain(context.Context, string, string) error { return nil }

func (f *fakeVHD) CreateSyntheticStream(context.Context, string, string) (io.ReadCloser, error) {
	return nil, nil
}

type fakeMerge struct {
	called  bool
	mergeOK bool
}

func (f *fakeMerge) MergeVHD(context.Context, string, string, string, string) error {
	f.called = true
	if !f.mergeOK {
		return context.DeadlineExceeded
	}
	return nil
}

func writeSidecar(t *testing.T, r *remote.LocalRemote, path string, m payloads.Metadata) {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, r.OutputFile(context.Background(), path, data))
}

func TestListVMFiltersByPredicate(t *testing.T) {
	r := remote.NewLocalRemote(t.TempDir())
	dir := "xo-vm-backups/vm-1"
	writeSidecar(t, r, dir+"/20260101T000000Z.json", payloads.Metadata{JobID: "job-a", Mode: payloads.ModeFull, Timestamp: 1})
	writeSidecar(t, r, dir+"/20260102T000000Z.json", payloads.Metadata{JobID: "job-b", Mode: payloads.ModeFull, Timestamp: 2})

	c := &catalog.Catalog{RemoteID: "r1", Remote: r}
	entries, err := c.ListVM(context.Background(), "r1", "vm-1", func(m payloads.Metadata) bool { return m.JobID == "job-a" })
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "job-a", entries[0].Metadata.JobID)
}

func TestDeleteFullRemovesSidecarAndPayload(t *testing.T) {
	r := remote.NewLocalRemote(t.TempDir())
	dir := "xo-vm-backups/vm-1"
	writeSidecar(t, r, dir+"/stamp.json", payloads.Metadata{XVA: "stamp.xva", Filename: dir + "/stamp.json"})
	require.NoError(t, r.OutputFile(context.Background(), dir+"/stamp.xva", []byte("payload")))

	c := &catalog.Catalog{RemoteID: "r1", Remote: r}
	err := c.DeleteFull(context.Background(), payloads.Metadata{XVA: "stamp.xva", Filename: dir + "/stamp.json"})
	require.NoError(t, err)

	_, err = r.ReadFile(context.Background(), dir+"/stamp.json")
	require.Error(t, err)
	_, err = r.ReadFile(context.Background(), dir+"/stamp.xva")
	require.Error(t, err)
}

func TestIsQuarantinedDetectsTaintedMarker(t *testing.T) {
	r := remote.NewLocalRemote(t.TempDir())
	c := &catalog.Catalog{RemoteID: "r1", Remote: r}

	require.False(t, c.IsQuarantined(context.Background(), "vdis/job-1/vdi-1/leaf.vhd"))

	require.NoError(t, r.OutputFile(context.Background(), "vdis/job-1/vdi-1/leaf.vhd.tainted", []byte("x")))
	require.True(t, c.IsQuarantined(context.Background(), "vdis/job-1/vdi-1/leaf.vhd"))
}

func TestDeleteDeltaMergesChainedVHDForward(t *testing.T) {
	r := remote.NewLocalRemote(t.TempDir())
	dir := "vdis/job-1/vdi-1"
	require.NoError(t, r.OutputFile(context.Background(), dir+"/parent.vhd", []byte("parent-bytes")))
	require.NoError(t, r.OutputFile(context.Background(), dir+"/child.vhd", []byte("child-bytes")))

	vhd := &fakeVHD{
		names: []string{"parent.vhd", "child.vhd"},
		headers: map[string]library.ParentLocator{
			path.Join(dir, "child.vhd"): {ParentUnicodeName: "parent.vhd"},
		},
	}
	merge := &fakeMerge{mergeOK: true}
	c := &catalog.Catalog{RemoteID: "r1", Remote: r, VHD: vhd, Merge: merge}

	err := c.DeleteDelta(context.Background(), "job-1", payloads.Metadata{
		Filename: dir + "/stamp.json",
		VHDs:     map[string]string{"vdi-1": "parent.vhd"},
	})
	require.NoError(t, err)
	require.True(t, merge.called)

	_, err = r.ReadFile(context.Background(), dir+"/parent.vhd")
	require.Error(t, err, "the merged-away parent must no longer exist under its own name")

	data, err := r.ReadFile(context.Background(), dir+"/child.vhd")
	require.NoError(t, err)
	require.Equal(t, "parent-bytes", string(data))
}

func TestDeleteDeltaQuarantinesOnMergeFailure(t *testing.T) {
	r := remote.NewLocalRemote(t.TempDir())
	dir := "vdis/job-1/vdi-1"
	require.NoError(t, r.OutputFile(context.Background(), dir+"/parent.vhd", []byte("parent-bytes")))
	require.NoError(t, r.OutputFile(context.Background(), dir+"/child.vhd", []byte("child-bytes")))

	vhd := &fakeVHD{
		names: []string{"parent.vhd", "child.vhd"},
		headers: map[string]library.ParentLocator{
			path.Join(dir, "child.vhd"): {ParentUnicodeName: "parent.vhd"},
		},
	}
	merge := &fakeMerge{mergeOK: false}
	c := &catalog.Catalog{RemoteID: "r1", Remote: r, VHD: vhd, Merge: merge}

	err := c.DeleteDelta(context.Background(), "job-1", payloads.Metadata{
		Filename: dir + "/stamp.json",
		VHDs:     map[string]string{"vdi-1": "parent.vhd"},
	})
	require.Error(t, err)

	_, err = r.ReadFile(context.Background(), dir+"/parent.vhd.tainted")
	require.NoError(t, err, "a failed merge must quarantine the parent instead of losing it")
}
