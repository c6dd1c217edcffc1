package event

import (
	"errors"
	"fmt"
)

// ErrMalformedRecord marks records that cannot be turned into a Trip.
var ErrMalformedRecord = errors.New("malformed record")

// MalformedRecordError carries the offending field and raw payload.
type MalformedRecordError struct {
	Field string
	Raw   []byte
	Err   error
}

func (e *MalformedRecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed record: %v", e.Err)
	}
	return fmt.Sprintf("malformed record: field %q: %v", e.Field, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *MalformedRecordError) Unwrap() []error {
	return []error{ErrMalformedRecord, e.Err}
}
