package vhd_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vatesfr/xobackup/pkg/vhd"
)

// writeFixture writes a minimal dynamic-disk VHD: a footer followed by
// a header whose ParentUnicodeName is parentName ("" for a full VHD).
func writeFixture(t *testing.T, path, parentName string) {
	t.Helper()

	footer := make([]byte, 512)
	copy(footer[0:8], "conectix")
	binary.BigEndian.PutUint64(footer[16:24], 512) // DataOffset: header follows footer

	header := make([]byte, 1024)
	copy(header[0:8], "cxsparse")

	if parentName != "" {
		units := utf16Encode(parentName)
		nameOff := 8 + 8 + 8 + 4 + 4 + 4 + 4 + 16 + 4 + 4
		copy(header[nameOff:nameOff+len(units)], units)
	}

	buf := &bytes.Buffer{}
	buf.Write(footer)
	buf.Write(header)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func utf16Encode(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = binary.BigEndian.AppendUint16(out, uint16(r))
	}
	return out
}

func TestListSortsLexicographically(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, filepath.Join(dir, "20240103T000000Z.vhd"), "")
	writeFixture(t, filepath.Join(dir, "20240101T000000Z.vhd"), "")
	writeFixture(t, filepath.Join(dir, "20240102T000000Z.vhd"), "20240101T000000Z.vhd")

	got, err := vhd.List(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		"20240101T000000Z.vhd",
		"20240102T000000Z.vhd",
		"20240103T000000Z.vhd",
	}, got)
}

func TestListOnMissingDirIsEmpty(t *testing.T) {
	got, err := vhd.List(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestParentOfFollowsHeaderField(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, filepath.Join(dir, "full.vhd"), "")
	writeFixture(t, filepath.Join(dir, "delta.vhd"), "full.vhd")

	parent, err := vhd.ParentOf(dir, "delta.vhd")
	require.NoError(t, err)
	require.Equal(t, "full.vhd", parent)

	noParent, err := vhd.ParentOf(dir, "full.vhd")
	require.NoError(t, err)
	require.Empty(t, noParent)
}

func TestChainIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	childPath := filepath.Join(dir, "child.vhd")
	writeFixture(t, childPath, "old-parent.vhd")

	require.NoError(t, vhd.Chain(filepath.Join(dir, "new-parent.vhd"), childPath))

	_, header, err := vhd.ReadHeaderAndFooter(childPath)
	require.NoError(t, err)
	require.Equal(t, "new-parent.vhd", header.ParentUnicodeName)

	require.NoError(t, vhd.Chain(filepath.Join(dir, "new-parent.vhd"), childPath))
	_, header2, err := vhd.ReadHeaderAndFooter(childPath)
	require.NoError(t, err)
	require.Equal(t, header.ParentUnicodeName, header2.ParentUnicodeName)
}
