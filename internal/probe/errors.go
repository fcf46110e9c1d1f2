package probe

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, following the broker package's Error/Kind pattern.
var (
	// ErrProbeFailed marks a sample that failed (read error, non-zero exit,
	// transform rejection). Never fatal: the affected field is omitted or
	// reported inline (spec §4.5, §7).
	ErrProbeFailed = errors.New("probe error")

	// ErrProbeTimeout marks a command probe that exceeded its per-sample
	// deadline (default 3s, spec §5).
	ErrProbeTimeout = errors.New("probe timeout")

	// ErrUnsupportedTransform marks a declared transform name outside the
	// closed set (identity, parse-int, parse-float, scale-by-constant, trim,
	// regex-extract). Fatal at config load, never at runtime (spec §4.5, §9).
	ErrUnsupportedTransform = errors.New("unsupported transform")

	// ErrUnknownProbe marks a lookup for a probe name that was never
	// registered.
	ErrUnknownProbe = errors.New("unknown probe")
)

// Error wraps one of the sentinels above with a human-readable message and
// an optional cause, mirroring broker.Error.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool { return errors.Is(e.Kind, target) }
