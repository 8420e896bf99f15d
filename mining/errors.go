package mining

import "github.com/pkg/errors"

// User-facing error kinds. NotFound and InvalidState are reported as-is
// and never retried; everything else coming out of the stores is
// considered transient and may be retried by the caller.
var (
	ErrInstitutionNotFound = errors.New("institution not found")
	ErrNotTracking         = errors.New("institution is not in the student's mining list")
	ErrSessionActive       = errors.New("a mining session is already active for this institution")
	ErrNoActiveSession     = errors.New("no active mining session for this institution")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrInstitutionNotFound)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrNotTracking) ||
		errors.Is(err, ErrSessionActive) ||
		errors.Is(err, ErrNoActiveSession)
}

// IsTransient reports whether an error is neither a not-found nor an
// invalid-state condition, i.e. a store or collaborator failure.
func IsTransient(err error) bool {
	return err != nil && !IsNotFound(err) && !IsInvalidState(err)
}
