package sentinel

import "errors"

// Infrastructure facts returned by stores, optionally wrapped. Services
// translate them into domain errors; handlers never see them directly.
//
//   - ErrNotFound: the record does not exist
//   - ErrConflict: a uniqueness rule rejected the write
//   - ErrInvalidState: a conditional update found the record in another state
//   - ErrUnavailable: the backing store could not be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
