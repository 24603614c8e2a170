package deid

import (
	"errors"
	"fmt"

	"github.com/suyashkumar/dicom/pkg/tag"
)

var (
	// ErrAddressNotFound reports that a rule's target does not exist in a
	// record. Non-fatal: the rule is skipped for that record.
	ErrAddressNotFound = errors.New("address not found")

	// ErrIndexOutOfRange reports a sequence index beyond the sequence
	// length. Non-fatal, same handling as ErrAddressNotFound.
	ErrIndexOutOfRange = errors.New("sequence index out of range")

	// ErrFinalized reports an attempted mutation of a finalized record.
	ErrFinalized = errors.New("record is finalized")
)

// CoercionError reports a replace-with or increment-date value that could
// not be coerced to the target element's type. Non-fatal: the element is
// left unmodified.
type CoercionError struct {
	Tag   tag.Tag
	VR    string
	Value string
	Want  string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("could not coerce %q to %s for tag %s (VR %s)",
		e.Value, e.Want, e.Tag, e.VR)
}
