// Package errs defines the error kinds shared by every patching component.
//
// Component packages declare their own sentinel errors that wrap one of the
// kinds below, so callers can branch on policy with errors.Is without
// knowing which component failed.
package errs

import "errors"

var (
	// ErrFormat indicates malformed or mismatched binary data.
	ErrFormat = errors.New("format error")

	// ErrPrecondition indicates a user-actionable mismatch between the source
	// image and the target texture.
	ErrPrecondition = errors.New("precondition failed")

	// ErrCapacity indicates that no external archive has room for a payload.
	ErrCapacity = errors.New("capacity exhausted")

	// ErrIO indicates a missing or unreadable file.
	ErrIO = errors.New("io error")
)

// KindOf returns the taxonomy name of err, or "error" when err does not wrap
// a known kind.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFormat):
		return "FormatError"
	case errors.Is(err, ErrPrecondition):
		return "PreconditionError"
	case errors.Is(err, ErrCapacity):
		return "CapacityError"
	case errors.Is(err, ErrIO):
		return "IOError"
	default:
		return "error"
	}
}

// Skippable reports whether err affects only the current location and the
// surrounding operation may continue with the remaining ones.
func Skippable(err error) bool {
	return errors.Is(err, ErrIO)
}
