package memutils

import (
	"fmt"
	"os"
	"syscall"
)

// Segment is an OS-named, fixed-size, memory-mapped byte region. The
// Segment value exclusively owns the mapping; views borrow it and never
// outlive a Close.
type Segment struct {
	File *os.File
	Mem  []byte
	Path string

	owner bool // created (vs opened); owners may unlink on Close
}

// CreateSegment creates the named segment, sizes it to size bytes and maps
// it read/write. The segment must not already exist; stale segments are
// removed beforehand with CheckMem.
func CreateSegment(path string, size int) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrMemCreatFail, path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: truncate %s to %d: %v", ErrMemSetFail, path, size, err)
	}

	mem, err := mmapFile(file, size)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: %s: %v", ErrMemMapFail, path, err)
	}

	return &Segment{File: file, Mem: mem, Path: path, owner: true}, nil
}

// OpenSegment maps an existing named segment read/write at its current
// size.
func OpenSegment(path string) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMemOpenFail, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrMemOpenFail, path, err)
	}
	size := int(info.Size())
	if size == 0 {
		file.Close()
		return nil, fmt.Errorf("%w: %s is empty", ErrMemOpenFail, path)
	}

	mem, err := mmapFile(file, size)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrMemMapFail, path, err)
	}

	return &Segment{File: file, Mem: mem, Path: path}, nil
}

// SegmentExists reports whether a segment with the given path is currently
// linked.
func SegmentExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CheckMem unlinks a stale segment left behind by a previous owner.
// Reports whether a stale segment was found.
func CheckMem(path string) bool {
	if err := os.Remove(path); err != nil {
		return false
	}
	return true
}

// Close unmaps and closes the segment. When unlink is true and the segment
// was created by this process, the name is removed as well. Idempotent.
func (s *Segment) Close(unlink bool) error {
	var firstErr error

	if s.Mem != nil {
		if err := syscall.Munmap(s.Mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("munmap %s: %w", s.Path, err)
		}
		s.Mem = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil

		if unlink && s.owner {
			if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := syscall.Mmap(int(file.Fd()), 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}
