//go:build !linux

package memutils

import "errors"

var ErrUnsupported = errors.New("futex operations not supported on this platform")

func futexWait(addr *uint32, val uint32) error {
	return ErrUnsupported
}

func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	return ErrUnsupported
}

func futexWake(addr *uint32, n int) (int, error) {
	return 0, ErrUnsupported
}
