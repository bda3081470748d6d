/*
Package vhd implements the on-disk chain operations the backup worker
needs over the VHD format: enumerating a VDI directory, finding a
child's parent, and splicing the parent-locator fields when a new
delta is appended to an existing chain. Full block-level merge is an
external VHD library concern (see mergeworker); the chain operations
only touch the 512-byte footer and the 1024-byte dynamic-disk header
(which holds the parent's name). CreateSyntheticStream (synth.go) also
reads the block allocation table and data blocks.
*/
package vhd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"unicode/utf16"
)

const (
	footerSize = 512
	headerSize = 1024

	cookieFooter = "conectix"
	cookieHeader = "cxsparse"

	// DataOffset marks a fixed (non-dynamic) disk; such files have no
	// header or parent-locator table and are always full.
	noDataOffset = 0xFFFFFFFFFFFFFFFF

	parentLocatorEntries  = 8
	parentUnicodeNameSize = 512
)

// Footer is the fixed trailer every VHD carries, big-endian per the
// format spec.
type Footer struct {
	Cookie           [8]byte
	Features         uint32
	FileFormatVersion uint32
	DataOffset       uint64
	Timestamp        uint32
	CreatorApp       [4]byte
	CreatorVersion   uint32
	CreatorHostOS    uint32
	OriginalSize     uint64
	CurrentSize      uint64
	DiskGeometry     uint32
	DiskType         uint32
	Checksum         uint32
	UniqueID         [16]byte
	SavedState       byte
}

// ParentLocatorEntry describes one of the 8 slots a dynamic-disk header
// carries for locating the parent by platform-specific path encodings.
type ParentLocatorEntry struct {
	PlatformCode       [4]byte
	PlatformDataSpace  uint32
	PlatformDataLength uint32
	Reserved           uint32
	PlatformDataOffset uint64
}

// Header is the dynamic-disk header that follows the footer copy at
// the start of a differencing (or otherwise dynamic) VHD.
type Header struct {
	Cookie            [8]byte
	DataOffset        uint64
	TableOffset       uint64
	HeaderVersion     uint32
	MaxTableEntries   uint32
	BlockSize         uint32
	Checksum          uint32
	ParentUniqueID    [16]byte
	ParentTimestamp   uint32
	Reserved          uint32
	ParentUnicodeName string
	ParentLocators    [parentLocatorEntries]ParentLocatorEntry

	// rawUnicodeName is the original 512-byte UTF-16BE field, kept so
	// rewriting the name preserves padding exactly.
	rawUnicodeName [parentUnicodeNameSize]byte
}

// IsDifferencing reports whether the VHD has a parent (i.e. is part of
// a chain rather than a full, standalone image).
func (h *Header) IsDifferencing() bool {
	return h != nil && h.ParentUnicodeName != ""
}

// ReadHeaderAndFooter reads the footer and, for dynamic/differencing
// disks, the header, from path.
func ReadHeaderAndFooter(path string) (*Footer, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	buf := make([]byte, footerSize)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, nil, fmt.Errorf("read footer copy: %w", err)
	}

	footer, err := parseFooter(buf)
	if err != nil {
		return nil, nil, err
	}

	if footer.DataOffset == noDataOffset {
		return footer, nil, nil
	}

	hbuf := make([]byte, headerSize)
	if _, err := f.Seek(int64(footer.DataOffset), io.SeekStart); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(f, hbuf); err != nil {
		return nil, nil, fmt.Errorf("read dynamic disk header: %w", err)
	}

	header, err := parseHeader(hbuf)
	if err != nil {
		return nil, nil, err
	}

	return footer, header, nil
}

func parseFooter(buf []byte) (*Footer, error) {
	if len(buf) < footerSize {
		return nil, fmt.Errorf("vhd: short footer (%d bytes)", len(buf))
	}
	var f Footer
	copy(f.Cookie[:], buf[0:8])
	if string(f.Cookie[:]) != cookieFooter {
		return nil, fmt.Errorf("vhd: bad footer cookie %q", f.Cookie)
	}
	r := bytes.NewReader(buf)
	r.Seek(8, io.SeekStart)
	binary.Read(r, binary.BigEndian, &f.Features)
	binary.Read(r, binary.BigEndian, &f.FileFormatVersion)
	binary.Read(r, binary.BigEndian, &f.DataOffset)
	binary.Read(r, binary.BigEndian, &f.Timestamp)
	io.ReadFull(r, f.CreatorApp[:])
	binary.Read(r, binary.BigEndian, &f.CreatorVersion)
	binary.Read(r, binary.BigEndian, &f.CreatorHostOS)
	binary.Read(r, binary.BigEndian, &f.OriginalSize)
	binary.Read(r, binary.BigEndian, &f.CurrentSize)
	binary.Read(r, binary.BigEndian, &f.DiskGeometry)
	binary.Read(r, binary.BigEndian, &f.DiskType)
	binary.Read(r, binary.BigEndian, &f.Checksum)
	io.ReadFull(r, f.UniqueID[:])
	binary.Read(r, binary.BigEndian, &f.SavedState)
	return &f, nil
}

func parseHeader(buf []byte) (*Header, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("vhd: short header (%d bytes)", len(buf))
	}
	var h Header
	copy(h.Cookie[:], buf[0:8])
	if string(h.Cookie[:]) != cookieHeader {
		return nil, fmt.Errorf("vhd: bad dynamic disk header cookie %q", h.Cookie)
	}
	r := bytes.NewReader(buf)
	r.Seek(8, io.SeekStart)
	binary.Read(r, binary.BigEndian, &h.DataOffset)
	binary.Read(r, binary.BigEndian, &h.TableOffset)
	binary.Read(r, binary.BigEndian, &h.HeaderVersion)
	binary.Read(r, binary.BigEndian, &h.MaxTableEntries)
	binary.Read(r, binary.BigEndian, &h.BlockSize)
	binary.Read(r, binary.BigEndian, &h.Checksum)
	io.ReadFull(r, h.ParentUniqueID[:])
	binary.Read(r, binary.BigEndian, &h.ParentTimestamp)
	binary.Read(r, binary.BigEndian, &h.Reserved)
	io.ReadFull(r, h.rawUnicodeName[:])
	h.ParentUnicodeName = decodeUTF16BE(h.rawUnicodeName[:])

	for i := 0; i < parentLocatorEntries; i++ {
		var e ParentLocatorEntry
		io.ReadFull(r, e.PlatformCode[:])
		binary.Read(r, binary.BigEndian, &e.PlatformDataSpace)
		binary.Read(r, binary.BigEndian, &e.PlatformDataLength)
		binary.Read(r, binary.BigEndian, &e.Reserved)
		binary.Read(r, binary.BigEndian, &e.PlatformDataOffset)
		h.ParentLocators[i] = e
	}

	return &h, nil
}

func decodeUTF16BE(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(b[2*i : 2*i+2])
	}
	// Trim at the first NUL code unit; the field is zero-padded.
	for i, u := range units {
		if u == 0 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units))
}

func encodeUTF16BE(name string) [parentUnicodeNameSize]byte {
	var out [parentUnicodeNameSize]byte
	units := utf16.Encode([]rune(name))
	for i, u := range units {
		if 2*i+1 >= len(out) {
			break
		}
		binary.BigEndian.PutUint16(out[2*i:2*i+2], u)
	}
	return out
}
