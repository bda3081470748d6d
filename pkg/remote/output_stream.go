package remote

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
)

// localOutputStream writes to a temp file opened with O_EXCL by the
// caller and, when requested, hashes the content as it is written so
// the checksum sidecar can be produced atomically on Close.
type localOutputStream struct {
	f        *os.File
	path     string
	hasher   *xxhash.Digest
	checksum bool
	done     chan error
}

func newLocalOutputStream(f *os.File, path string, checksum bool) *localOutputStream {
	s := &localOutputStream{f: f, path: path, checksum: checksum, done: make(chan error, 1)}
	if checksum {
		s.hasher = xxhash.New()
	}
	return s
}

func (s *localOutputStream) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if n > 0 && s.hasher != nil {
		s.hasher.Write(p[:n])
	}
	return n, err
}

func (s *localOutputStream) Close() error {
	if err := s.f.Close(); err != nil {
		s.done <- err
		close(s.done)
		return err
	}

	if !s.checksum {
		close(s.done)
		return nil
	}

	sum := []byte(fmt.Sprintf("%x", s.hasher.Sum64()))
	err := os.WriteFile(s.path+".checksum", sum, 0o644)
	s.done <- err
	close(s.done)
	return err
}

func (s *localOutputStream) ChecksumWritten() <-chan error {
	return s.done
}
