package authl

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrNoHandler        = errors.New("no handler for identity")
	ErrNotFound         = errors.New("not found")
	ErrDuplicateID      = errors.New("duplicate handler id")
)
