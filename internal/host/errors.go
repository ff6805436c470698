package host

import "errors"

// FatalError marks a failure after which no cached or archived state can be
// trusted. It is never handled below the top-level command handler.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}
