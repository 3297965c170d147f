package occmap

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRaster = errors.New("malformed raster")
	ErrMissingField    = errors.New("missing field")
	ErrInvalidValue    = errors.New("invalid value")
	ErrInvalidRow      = errors.New("invalid row")
	ErrEncoding        = errors.New("encoding error")
	ErrNotFound        = errors.New("not found")
	ErrMissingInput    = errors.New("missing input")
	ErrSessionNotFound = errors.New("session not found")
)

// MalformedRasterError describes a header, dimension or sample violation
type MalformedRasterError struct {
	Reason string
}

func (e *MalformedRasterError) Error() string {
	return fmt.Sprintf("malformed raster: %s", e.Reason)
}

func (e *MalformedRasterError) Is(target error) bool {
	return target == ErrMalformedRaster
}

func malformed(format string, args ...any) error {
	return &MalformedRasterError{Reason: fmt.Sprintf(format, args...)}
}

// FieldError reports a metadata field that is absent or unusable.
// Kind is either ErrMissingField or ErrInvalidValue.
type FieldError struct {
	Field string
	Value string
	Kind  error
}

func (e *FieldError) Error() string {
	if e.Kind == ErrMissingField {
		return fmt.Sprintf("metadata: %s is required", e.Field)
	}
	return fmt.Sprintf("metadata: invalid %s %q", e.Field, e.Value)
}

func (e *FieldError) Is(target error) bool {
	return target == e.Kind
}

// RowError describes a skipped evidence row. Line is 1-based and counts the header.
type RowError struct {
	Line   int    `json:"line"`
	Column string `json:"column"`
	Value  string `json:"value"`
	Err    error  `json:"-"`
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid row %d: column %s=%q: %v", e.Line, e.Column, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid row %d: column %s=%q", e.Line, e.Column, e.Value)
}

func (e *RowError) Is(target error) bool {
	return target == ErrInvalidRow
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// EncodingError is returned when a raster cannot be serialised
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error: %s", e.Reason)
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}
