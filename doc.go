// Package eigenipc exchanges dense 2-D numeric tensors and variable-length
// string vectors between cooperating processes on a single host through
// OS shared memory.
//
// One process owns a Server sized at creation; any number of Client
// processes attach to the same (basename, namespace) pair, discover the
// published shape, element type and memory layout from a metadata sidecar,
// and perform typed partial reads and writes against the server's tensor
// under a shared data semaphore. A Producer/Consumer pair layers a
// trigger/ack barrier on top of the same substrate using two shared
// counters and two named condition variables.
//
// All cross-process blocking is futex-based and operates directly on words
// inside the mapped segments; the implementation prioritizes correctness of
// the semaphore discipline (server uniqueness, deferred data release,
// graceful teardown across crashes) over raw data-path tuning.
package eigenipc
