package record

import (
	"errors"
	"fmt"
)

// Adapter converts one raw source document into a canonical record.
// Implementations must be safe for concurrent use; all per-document state
// lives in the call.
type Adapter interface {
	Format() Format
	Extract(raw []byte) (*ExtractedPatient, error)
}

// MalformedInputError reports a document that could not be parsed at all.
type MalformedInputError struct {
	Format Format
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Malformed builds a MalformedInputError with the given reason prefix.
func Malformed(format Format, reason string, err error) error {
	return &MalformedInputError{Format: format, Reason: reason, Err: err}
}

// ExtractionError reports a well-formed document that lacks a required
// element, such as the patient.
type ExtractionError struct {
	Format Format
	Reason string
}

func (e *ExtractionError) Error() string { return e.Reason }

// Extraction builds an ExtractionError.
func Extraction(format Format, reason string) error {
	return &ExtractionError{Format: format, Reason: reason}
}

// IsMalformed reports whether err is or wraps a MalformedInputError.
func IsMalformed(err error) bool {
	var target *MalformedInputError
	return errors.As(err, &target)
}

// IsExtraction reports whether err is or wraps an ExtractionError.
func IsExtraction(err error) bool {
	var target *ExtractionError
	return errors.As(err, &target)
}
