package labelprop

import "errors"

var (
	ErrInvalidOptions    = errors.New("labelprop: invalid options")
	ErrAnchorOutOfRange  = errors.New("labelprop: context frame out of bounds")
	ErrNoCandidates      = errors.New("labelprop: no affinity candidates")
	ErrResourceExhausted = errors.New("labelprop: working set exceeds memory budget")
	ErrFutureLeak        = errors.New("labelprop: source frame not yet propagated")
	ErrEmptyVideo        = errors.New("labelprop: video has too few frames")
	ErrShapeMismatch     = errors.New("labelprop: shape mismatch")
)
