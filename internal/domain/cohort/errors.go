package cohort

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrMissingReference = errors.New("subject not found")
	ErrValidation       = errors.New("validation failed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrMalformedRow     = errors.New("malformed dataset row")
)

// MalformedRowError reports the dataset row and column that stopped an import.
// Row is the 1-based data row number, not counting the header; zero means the
// header itself lacks Column.
type MalformedRowError struct {
	Row    int
	Column string
	Err    error
}

func (e *MalformedRowError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("header, column %s: %v", e.Column, e.Err)
	}
	if e.Column == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d, column %s: %v", e.Row, e.Column, e.Err)
}

func (e *MalformedRowError) Unwrap() error { return e.Err }

func (e *MalformedRowError) Is(target error) bool { return target == ErrMalformedRow }

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
