package eigenipc

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/AndrePatri/EigenIPC/internal/memutils"
	"github.com/AndrePatri/EigenIPC/journal"
)

// condVarSize is the backing segment of one named condition variable:
// a mutex word and a notification sequence word.
const condVarSize = 8

const (
	mtxUnlocked  = 0
	mtxLocked    = 1
	mtxContended = 2
)

// ConditionVariable is a named, cross-process condition variable: a futex
// mutex plus a notification sequence living in one shared segment. The
// server side creates and unlinks the segment; clients open it.
//
// The usual discipline applies: take Lock, check the predicate in a loop
// around Wait/TimedWait, Unlock. Notify may be called with or without the
// mutex held.
type ConditionVariable struct {
	isServer  bool
	basename  string
	namespace string

	seg *memutils.Segment
	jr  *journal.Journal

	verbose bool
	vlevel  journal.VLevel

	closed bool
}

// NewConditionVariable creates (isServer) or opens (!isServer) the named
// condition variable of the (basename, namespace) pair.
func NewConditionVariable(isServer bool, basename, namespace string, verbose bool, vlevel journal.VLevel) (*ConditionVariable, error) {
	cv := &ConditionVariable{
		isServer:  isServer,
		basename:  basename,
		namespace: namespace,
		jr:        journal.New("eigenipc.ConditionVariable"),
		verbose:   verbose,
		vlevel:    vlevel,
	}

	cfg := memutils.NewMemConfig(basename, namespace)
	path := cfg.CondVarPath()

	var err error
	if isServer {
		memutils.CheckMem(path)
		cv.seg, err = memutils.CreateSegment(path, condVarSize)
	} else {
		cv.seg, err = memutils.OpenSegment(path)
	}
	if err != nil {
		return nil, fmt.Errorf("condition variable %s: %w", path, err)
	}

	if verbose && vlevel > journal.V1 {
		role := "opened"
		if isServer {
			role = "created"
		}
		cv.jr.Logf("NewConditionVariable", journal.Stat, "%s condition variable at %s", role, path)
	}
	return cv, nil
}

func (cv *ConditionVariable) mutexWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&cv.seg.Mem[0]))
}

func (cv *ConditionVariable) seqWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&cv.seg.Mem[4]))
}

// Lock acquires the shared mutex, blocking other processes out of the
// counter read/modify/write window.
func (cv *ConditionVariable) Lock() {
	m := cv.mutexWord()
	if atomic.CompareAndSwapUint32(m, mtxUnlocked, mtxLocked) {
		return
	}
	for atomic.SwapUint32(m, mtxContended) != mtxUnlocked {
		futexWaitWord(m, mtxContended)
	}
}

// Unlock releases the shared mutex and wakes one blocked locker.
func (cv *ConditionVariable) Unlock() {
	m := cv.mutexWord()
	if atomic.SwapUint32(m, mtxUnlocked) == mtxContended {
		futexWakeWord(m, 1)
	}
}

// Wait atomically releases the mutex and blocks until a notification,
// then reacquires the mutex. Spurious wakeups are possible; callers loop
// on their predicate.
func (cv *ConditionVariable) Wait() {
	seq := cv.seqWord()
	snapshot := atomic.LoadUint32(seq)
	cv.Unlock()
	futexWaitWord(seq, snapshot)
	cv.Lock()
}

// TimedWait is Wait bounded by msTimeout milliseconds. Returns false when
// the timer elapsed before a notification. msTimeout <= 0 blocks
// indefinitely.
func (cv *ConditionVariable) TimedWait(msTimeout int) bool {
	if msTimeout <= 0 {
		cv.Wait()
		return true
	}

	seq := cv.seqWord()
	snapshot := atomic.LoadUint32(seq)
	cv.Unlock()
	timedOut := !futexWaitWordTimeout(seq, snapshot, time.Duration(msTimeout)*time.Millisecond)
	cv.Lock()
	return !timedOut
}

// NotifyOne wakes one waiter.
func (cv *ConditionVariable) NotifyOne() {
	seq := cv.seqWord()
	atomic.AddUint32(seq, 1)
	futexWakeWord(seq, 1)
}

// NotifyAll wakes every waiter.
func (cv *ConditionVariable) NotifyAll() {
	seq := cv.seqWord()
	atomic.AddUint32(seq, 1)
	futexWakeWord(seq, 1<<30)
}

// Close unmaps the condition variable; the creating side unlinks the name.
// Idempotent.
func (cv *ConditionVariable) Close() error {
	if cv.closed {
		return nil
	}
	cv.closed = true
	return cv.seg.Close(cv.isServer)
}

func futexWaitWord(addr *uint32, val uint32) {
	memutils.FutexWait(addr, val)
}

// futexWaitWordTimeout reports whether a wake (or value change) arrived
// before the timer elapsed.
func futexWaitWordTimeout(addr *uint32, val uint32, d time.Duration) bool {
	return memutils.FutexWaitTimeout(addr, val, d) != memutils.ErrFutexTimeout
}

func futexWakeWord(addr *uint32, n int) {
	memutils.FutexWake(addr, n)
}
