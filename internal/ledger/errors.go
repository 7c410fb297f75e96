package ledger

import (
	"errors"
	"fmt"

	"github.com/dvloznov/proforma/internal/timeline"
)

var (
	// ErrSchema marks invalid records or metadata.
	ErrSchema = errors.New("schema error")
	// ErrIndexType marks a series whose index is not a month or date axis.
	ErrIndexType = errors.New("unsupported series index")
	// ErrConversion marks a failed materialization. The ledger is unchanged.
	ErrConversion = errors.New("conversion failed")
)

// SchemaError reports an invalid field on a record or series metadata.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s: %s", e.Field, e.Reason)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// IndexTypeError reports a series index the converter cannot date.
type IndexTypeError struct {
	Kind timeline.IndexKind
}

func (e *IndexTypeError) Error() string {
	if e.Kind == 0 {
		return "unsupported series index: missing index"
	}
	return fmt.Sprintf("unsupported series index: %s (need month or date index)", e.Kind)
}

func (e *IndexTypeError) Is(target error) bool { return target == ErrIndexType }

// ConversionError wraps the cause of a failed Materialize. errors.Is matches both
// ErrConversion and the underlying cause.
type ConversionError struct {
	Generation uint64
	Err        error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("materialize generation %d: %v", e.Generation, e.Err)
}

func (e *ConversionError) Unwrap() []error { return []error{ErrConversion, e.Err} }
