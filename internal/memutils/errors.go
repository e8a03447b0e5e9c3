package memutils

import "errors"

// Segment-level failures during create/resize/map/open.
var (
	ErrMemCreatFail = errors.New("shared memory creation failed")
	ErrMemSetFail   = errors.New("shared memory resize failed")
	ErrMemMapFail   = errors.New("shared memory mapping failed")
	ErrMemOpenFail  = errors.New("shared memory open failed")
)

// Semaphore-level failures.
var (
	ErrSemOpenFail = errors.New("semaphore open failed")
	ErrSemAcqFail  = errors.New("semaphore acquisition failed")
	ErrSemRelFail  = errors.New("semaphore release failed")
)

// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
var ErrFutexTimeout = errors.New("futex timeout")
