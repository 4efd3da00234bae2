package halloc

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is returned when the general allocator cannot back an allocation.
	ErrOutOfMemory = errors.New("halloc: out of memory")
	// ErrSizeOverflow is returned for negative sizes or sizes beyond 4GB.
	ErrSizeOverflow = errors.New("halloc: size overflow")
	// ErrInvalidSize ...
	ErrInvalidSize = errors.New("halloc: invalid size")
	// ErrInvalidContext is returned for stale or unknown handles.
	ErrInvalidContext = errors.New("halloc: invalid context")
	// ErrAmbiguousReference is returned by Unlink when zero or several references match.
	ErrAmbiguousReference = errors.New("halloc: ambiguous reference")
	// ErrCycle is returned by Steal when the new parent lives inside the stolen subtree.
	ErrCycle = errors.New("halloc: steal would create a cycle")
	// ErrCacheExhausted is returned by Request when a pool cache has no slot left.
	ErrCacheExhausted = errors.New("halloc: pool cache exhausted")
	// ErrDestructorVeto is matched by every *VetoError.
	ErrDestructorVeto = errors.New("halloc: destructor vetoed free")
	// ErrBusy is returned by Free when the context is still referenced from outside its subtree.
	ErrBusy = errors.New("halloc: context has references")
	// ErrNotPool ...
	ErrNotPool = errors.New("halloc: context is not a pool")
	// ErrNotCache ...
	ErrNotCache = errors.New("halloc: context is not a pool cache")
)

// VetoError reports the destructor that stopped a Free.
//
// Contexts freed before the veto stay freed; the vetoing context and
// everything not yet visited stay attached.
type VetoError struct {
	Ctx  Ctx
	Name string
	Err  error
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("halloc: destructor of %q (%s) vetoed free: %v", e.Name, e.Ctx, e.Err)
}

func (e *VetoError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDestructorVeto) hold for every VetoError.
func (e *VetoError) Is(target error) bool {
	return target == ErrDestructorVeto
}
