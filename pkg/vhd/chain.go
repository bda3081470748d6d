package vhd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// List returns the VHD files in dir sorted lexicographically, which for
// the on-disk naming scheme (fixed-width UTC timestamps) equals
// chronological order.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var vhds []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".vhd") {
			vhds = append(vhds, e.Name())
		}
	}
	sort.Strings(vhds)
	return vhds, nil
}

// ParentOf returns the sibling file in dir whose basename matches
// childPath's parentUnicodeName header field, or "" if childPath is a
// full VHD or its parent is not present in dir.
func ParentOf(dir, childPath string) (string, error) {
	_, header, err := ReadHeaderAndFooter(filepath.Join(dir, childPath))
	if err != nil {
		return "", err
	}
	if header == nil || header.ParentUnicodeName == "" {
		return "", nil
	}

	siblings, err := List(dir)
	if err != nil {
		return "", err
	}
	parentBase := filepath.Base(header.ParentUnicodeName)
	for _, s := range siblings {
		if s == parentBase {
			return s, nil
		}
	}
	return "", nil
}

// Chain rewrites childPath's parent-locator fields to point at
// parentPath. Idempotent: when the child already names parentPath's
// base name it returns without writing anything.
func Chain(parentPath, childPath string) error {
	footer, header, err := ReadHeaderAndFooter(childPath)
	if err != nil {
		return err
	}
	if header == nil {
		return fmt.Errorf("vhd: %s has no dynamic disk header, cannot chain", childPath)
	}

	parentName := filepath.Base(parentPath)
	if header.ParentUnicodeName == parentName {
		return nil
	}

	header.ParentUnicodeName = parentName
	header.rawUnicodeName = encodeUTF16BE(parentName)

	buf, err := serializeHeader(header)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(childPath, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(buf, int64(footer.DataOffset)); err != nil {
		return fmt.Errorf("vhd: write chained header to %s: %w", childPath, err)
	}
	return nil
}

func serializeHeader(h *Header) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Write(h.Cookie[:])
	binary.Write(buf, binary.BigEndian, h.DataOffset)
	binary.Write(buf, binary.BigEndian, h.TableOffset)
	binary.Write(buf, binary.BigEndian, h.HeaderVersion)
	binary.Write(buf, binary.BigEndian, h.MaxTableEntries)
	binary.Write(buf, binary.BigEndian, h.BlockSize)

	// Checksum is recomputed below once the rest of the header bytes
	// are known; write a zero placeholder for now.
	checksumOffset := buf.Len()
	binary.Write(buf, binary.BigEndian, uint32(0))

	buf.Write(h.ParentUniqueID[:])
	binary.Write(buf, binary.BigEndian, h.ParentTimestamp)
	binary.Write(buf, binary.BigEndian, h.Reserved)
	buf.Write(h.rawUnicodeName[:])

	for _, e := range h.ParentLocators {
		buf.Write(e.PlatformCode[:])
		binary.Write(buf, binary.BigEndian, e.PlatformDataSpace)
		binary.Write(buf, binary.BigEndian, e.PlatformDataLength)
		binary.Write(buf, binary.BigEndian, e.Reserved)
		binary.Write(buf, binary.BigEndian, e.PlatformDataOffset)
	}

	out := buf.Bytes()
	if len(out) < headerSize {
		out = append(out, make([]byte, headerSize-len(out))...)
	}

	checksum := vhdChecksum(out, checksumOffset)
	binary.BigEndian.PutUint32(out[checksumOffset:checksumOffset+4], checksum)

	return out, nil
}

// vhdChecksum is the VHD one's-complement byte-sum checksum, computed
// with the checksum field itself treated as zero.
func vhdChecksum(buf []byte, checksumOffset int) uint32 {
	var sum uint32
	for i, b := range buf {
		if i >= checksumOffset && i < checksumOffset+4 {
			continue
		}
		sum += uint32(b)
	}
	return ^sum
}
