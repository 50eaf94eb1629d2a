package paging

import "errors"

// Error kinds
var (
	ErrMisalignedAddress  = errors.New("paging: misaligned address")
	ErrAlreadyMapped      = errors.New("paging: already mapped")
	ErrHugePageCollision  = errors.New("paging: huge page collision")
	ErrNotMapped          = errors.New("paging: not mapped")
	ErrNonCanonicalAddr   = errors.New("paging: non-canonical address")
	ErrAllocatorExhausted = errors.New("paging: allocator exhausted")
	ErrWriteExecuteViolation = errors.New("paging: writable and executable (W^X violation)")
	ErrUserAccessDenied   = errors.New("paging: user access to protected frame denied")
	ErrSelfMapProtected   = errors.New("paging: self-map slot is protected")
)
