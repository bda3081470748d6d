package vhd

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const sectorSize = 512

// batEntryUnused is the sentinel value marking a block as not yet allocated
// in this file; the reader must fall through to the parent.
const batEntryUnused = 0xFFFFFFFF

// openChain walks from leaf (the requested VHD, child-most) up through
// its ancestors, returning paths ordered child-first.
func openChain(dir, leaf string) ([]string, error) {
	chain := []string{leaf}
	current := leaf
	for {
		parent, err := ParentOf(dir, current)
		if err != nil {
			return nil, err
		}
		if parent == "" {
			break
		}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

func readBAT(path string, header *Header) ([]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bat := make([]uint32, header.MaxTableEntries)
	buf := make([]byte, 4*len(bat))
	if _, err := f.ReadAt(buf, int64(header.TableOffset)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("vhd: read BAT of %s: %w", path, err)
	}
	for i := range bat {
		bat[i] = binary.BigEndian.Uint32(buf[4*i : 4*i+4])
	}
	return bat, nil
}

// bitmapSize is the sector-bitmap size preceding each block's data,
// rounded up to a whole sector as the format requires.
func bitmapSize(blockSize uint32) int64 {
	sectors := blockSize / sectorSize
	bytesNeeded := (sectors + 7) / 8
	return (int64(bytesNeeded) + sectorSize - 1) / sectorSize * sectorSize
}

// link is one opened ancestor in a chain, ready for random-access block
// reads.
type link struct {
	file   *os.File
	header *Header
	bat    []uint32
}

// CreateSyntheticStream coalesces the parent chain rooted at the VHD
// named leaf (in dir) into a single virtual full-disk byte stream, the
// way a restore needs to hand the hypervisor one contiguous image
// without first materializing a merged file on disk. Resolution is at
// block granularity: a block present in a more recent link always
// wins over an older one, matching differencing-disk semantics; the
// per-sector bitmap within a present block is not consulted, which is
// a documented simplification (see DESIGN.md) since this core never
// writes partial blocks itself.
func CreateSyntheticStream(dir, leaf string) (io.ReadCloser, error) {
	chainNames, err := openChain(dir, leaf)
	if err != nil {
		return nil, err
	}

	links := make([]*link, 0, len(chainNames))
	for _, name := range chainNames {
		path := filepath.Join(dir, name)
		_, header, err := ReadHeaderAndFooter(path)
		if err != nil {
			closeLinks(links)
			return nil, err
		}
		if header == nil {
			closeLinks(links)
			return nil, fmt.Errorf("vhd: %s is a fixed disk, cannot be a chain member", path)
		}
		bat, err := readBAT(path, header)
		if err != nil {
			closeLinks(links)
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			closeLinks(links)
			return nil, err
		}
		links = append(links, &link{file: f, header: header, bat: bat})
	}

	leafHeader := links[0].header
	blockSize := int64(leafHeader.BlockSize)
	bmSize := bitmapSize(leafHeader.BlockSize)

	r, w := io.Pipe()
	go func() {
		defer closeLinks(links)
		zero := make([]byte, blockSize)
		buf := make([]byte, blockSize)

		for i := uint32(0); i < leafHeader.MaxTableEntries; i++ {
			block := zero
			for _, l := range links {
				if int(i) >= len(l.bat) {
					continue
				}
				entry := l.bat[i]
				if entry == batEntryUnused {
					continue
				}
				offset := int64(entry)*sectorSize + bmSize
				if _, err := l.file.ReadAt(buf, offset); err != nil && err != io.EOF {
					w.CloseWithError(fmt.Errorf("vhd: read block %d: %w", i, err))
					return
				}
				block = buf
				break
			}
			if _, err := w.Write(block); err != nil {
				return
			}
		}
		w.Close()
	}()

	return r, nil
}

func closeLinks(links []*link) {
	for _, l := range links {
		l.file.Close()
	}
}
