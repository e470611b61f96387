// Package errors attaches a sentinel kind to an unrelated cause so callers can
// match on the kind with errors.Is while the cause stays inspectable.
package errors

// With returns an error that matches both kind and cause. Its message is
// "<kind>: <cause>". A nil cause yields kind and a nil kind yields cause.
func With(cause, kind error) error {
	switch {
	case cause == nil && kind == nil:
		return nil
	case kind == nil:
		return cause
	case cause == nil:
		return kind
	}
	return &layered{cause: cause, kind: kind}
}

type layered struct {
	cause error
	kind  error
}

func (l *layered) Error() string {
	return l.kind.Error() + ": " + l.cause.Error()
}

// Unwrap exposes the kind first so errors.As prefers typed kinds.
func (l *layered) Unwrap() []error {
	return []error{l.kind, l.cause}
}
