package memutils

import "time"

// Exported futex surface for the condition-variable layer. The underlying
// words must live in MAP_SHARED memory for cross-process use.

// FutexWait blocks while *addr == val; see futexWait for the re-check and
// spurious-wakeup caveats.
func FutexWait(addr *uint32, val uint32) error {
	return futexWait(addr, val)
}

// FutexWaitTimeout is FutexWait bounded by d; d <= 0 means no timeout.
// Returns ErrFutexTimeout when the timer elapses.
func FutexWaitTimeout(addr *uint32, val uint32, d time.Duration) error {
	return futexWaitTimeout(addr, val, d.Nanoseconds())
}

// FutexWake wakes up to n waiters blocked on addr.
func FutexWake(addr *uint32, n int) (int, error) {
	return futexWake(addr, n)
}
