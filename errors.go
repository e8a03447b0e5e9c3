package eigenipc

import (
	"errors"

	"github.com/AndrePatri/EigenIPC/internal/memutils"
)

// OS-level failure kinds, re-exported from the segment manager so callers
// can match them with errors.Is without importing internal packages.
var (
	ErrMemCreatFail = memutils.ErrMemCreatFail
	ErrMemSetFail   = memutils.ErrMemSetFail
	ErrMemMapFail   = memutils.ErrMemMapFail
	ErrMemOpenFail  = memutils.ErrMemOpenFail
	ErrSemOpenFail  = memutils.ErrSemOpenFail
	ErrSemAcqFail   = memutils.ErrSemAcqFail
	ErrSemRelFail   = memutils.ErrSemRelFail
)

// Client–server metadata disagreement and state errors.
var (
	ErrSizeMismatch   = errors.New("tensor size mismatch")
	ErrDTypeMismatch  = errors.New("element type mismatch")
	ErrLayoutMismatch = errors.New("memory layout mismatch")
	ErrNotRunning     = errors.New("not running")
	ErrOutOfBounds    = errors.New("block exceeds tensor bounds")
)

// ErrTriggerDeltaInvalid means a consumer observed a trigger-counter
// advance outside {0, 1}: a trigger was missed or the counter was
// externally corrupted. Fatal at the consumer.
var ErrTriggerDeltaInvalid = errors.New("invalid trigger counter delta")
