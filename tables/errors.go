package tables

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned for a file type other than csv or parquet.
	ErrUnsupportedFormat = errors.New("unsupported input format")
	// ErrMissingColumn matches any MissingColumnError via errors.Is.
	ErrMissingColumn = errors.New("missing required column")
)

// MissingColumnError reports a required column absent from an input table.
type MissingColumnError struct {
	Table  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: %s: %q", e.Table, ErrMissingColumn, e.Column)
}

func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}
