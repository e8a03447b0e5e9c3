package memutils

import (
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"
)

// semSize is the backing file size of one named semaphore: a single
// 32-bit permit counter.
const semSize = 4

// Semaphore is a named, cross-process counting semaphore. The permit
// counter lives in a tiny shared segment and waiters block on it with
// futexes, so the name survives process crashes exactly like a POSIX named
// semaphore would.
type Semaphore struct {
	path string
	file *os.File
	mem  []byte
}

// SemInit creates the named semaphore initialized to 1 permit, or opens it
// if it already exists.
func SemInit(path string) (*Semaphore, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	created := err == nil
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrSemOpenFail, path, err)
		}
		file, err = os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSemOpenFail, path, err)
		}
	}

	if created {
		if err := file.Truncate(semSize); err != nil {
			file.Close()
			os.Remove(path)
			return nil, fmt.Errorf("%w: %s: %v", ErrSemOpenFail, path, err)
		}
	}

	mem, err := mmapFile(file, semSize)
	if err != nil {
		file.Close()
		if created {
			os.Remove(path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSemOpenFail, path, err)
	}

	s := &Semaphore{path: path, file: file, mem: mem}
	if created {
		atomic.StoreUint32(s.word(), 1)
	}
	return s, nil
}

func (s *Semaphore) word() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[0]))
}

// Path returns the semaphore's rendezvous name.
func (s *Semaphore) Path() string { return s.path }

// Value returns the current permit count. Diagnostic only; the value may
// be stale by the time the caller looks at it.
func (s *Semaphore) Value() uint32 {
	return atomic.LoadUint32(s.word())
}

// TryAcquire takes one permit without blocking. Reports whether a permit
// was taken.
func (s *Semaphore) TryAcquire() bool {
	w := s.word()
	for {
		v := atomic.LoadUint32(w)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(w, v, v-1) {
			return true
		}
	}
}

// Acquire blocks until a permit is available.
func (s *Semaphore) Acquire() error {
	w := s.word()
	for {
		if s.TryAcquire() {
			return nil
		}
		if err := futexWait(w, 0); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSemAcqFail, s.path, err)
		}
	}
}

// AcquireTimed blocks for at most timeout. On timeout with force set, the
// semaphore is assumed to be held by a dead owner: the backing segment is
// destroyed, recreated with zero permits and treated as acquired by the
// caller. Without force, a timeout is ErrSemAcqFail.
func (s *Semaphore) AcquireTimed(timeout time.Duration, force bool) error {
	w := s.word()
	deadline := time.Now().Add(timeout)
	for {
		if s.TryAcquire() {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		err := futexWaitTimeout(w, 0, remaining.Nanoseconds())
		if err == ErrFutexTimeout {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSemAcqFail, s.path, err)
		}
	}

	if !force {
		return fmt.Errorf("%w: %s: timed out after %v", ErrSemAcqFail, s.path, timeout)
	}
	return s.forceRecreate()
}

// forceRecreate unlinks the stuck semaphore and replaces it with a fresh
// one holding zero permits, i.e. already acquired by the caller.
func (s *Semaphore) forceRecreate() error {
	if s.mem != nil {
		syscall.Munmap(s.mem)
		s.mem = nil
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	os.Remove(s.path)

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("%w: recreate %s: %v", ErrSemAcqFail, s.path, err)
	}
	if err := file.Truncate(semSize); err != nil {
		file.Close()
		return fmt.Errorf("%w: recreate %s: %v", ErrSemAcqFail, s.path, err)
	}
	mem, err := mmapFile(file, semSize)
	if err != nil {
		file.Close()
		return fmt.Errorf("%w: recreate %s: %v", ErrSemAcqFail, s.path, err)
	}

	s.file = file
	s.mem = mem
	atomic.StoreUint32(s.word(), 0)
	return nil
}

// Release returns one permit and wakes one waiter.
func (s *Semaphore) Release() error {
	if s.mem == nil {
		return fmt.Errorf("%w: %s: semaphore closed", ErrSemRelFail, s.path)
	}
	w := s.word()
	atomic.AddUint32(w, 1)
	if _, err := futexWake(w, 1); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSemRelFail, s.path, err)
	}
	return nil
}

// Close unmaps the semaphore; when unlink is set the name is removed so no
// new process can open it. Idempotent.
func (s *Semaphore) Close(unlink bool) error {
	var firstErr error
	if s.mem != nil {
		if err := syscall.Munmap(s.mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mem = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
		if unlink {
			if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
