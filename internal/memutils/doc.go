// Package memutils manages the OS-level resources behind a shared tensor:
// named shared-memory segments, futex-backed named semaphores, and typed
// strided 2-D views over mapped regions.
//
// Segments are plain files under /dev/shm (or the temp directory when
// /dev/shm is unavailable), created with O_EXCL semantics, sized with
// Truncate and mapped with MAP_SHARED. Cross-process blocking uses the
// futex system call directly on 32-bit words inside mapped memory; there
// is no dependency on pthread or on POSIX named semaphores.
package memutils
