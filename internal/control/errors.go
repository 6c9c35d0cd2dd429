package control

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrInvalidMetadata   = errors.New("invalid package metadata")
	ErrInvalidDependency = errors.New("invalid dependency constraint")
	ErrMalformedControl  = errors.New("malformed control paragraph")
)

// A single offending metadata field.
type FieldError struct {
	Field  string // Recipe key of the field (e.g., "pkgname").
	Value  string // Value as supplied.
	Reason string // Why the value was rejected.
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Reason, e.Value)
}

// Lists every field that failed validation.
//
// The problems are kept in the order they were found, which follows the
// field order of the recipe.
type ValidationError struct {
	kind error
	errs *multierror.Error
}

func (e *ValidationError) Error() string {
	return e.errs.Error()
}

// Returns every collected problem.
func (e *ValidationError) Errors() []error {
	return e.errs.Errors
}

// Returns the offending fields.
func (e *ValidationError) Fields() []*FieldError {
	var fields []*FieldError
	for _, err := range e.errs.Errors {
		var fe *FieldError
		if errors.As(err, &fe) {
			fields = append(fields, fe)
		}
	}
	return fields
}

// Matches the sentinel the problems were collected under.
func (e *ValidationError) Is(target error) bool {
	return target == e.kind
}

// Accumulates field errors during validation.
//
// The zero value collects under [ErrInvalidMetadata]. Other packages that
// validate user input set Kind to their own sentinel so callers can tell
// the sources apart with errors.Is.
type Problems struct {
	Kind   error  // Sentinel reported by the resulting error.
	Prefix string // Prepended to every field name (e.g., "deb_info.").
	errs   *multierror.Error
}

// Records an offending field.
func (p *Problems) Add(field, value, reason string) {
	p.errs = multierror.Append(p.errs, &FieldError{Field: p.Prefix + field, Value: value, Reason: reason})
}

// Folds the fields of a [ValidationError] into p. Any other error is kept
// as is.
func (p *Problems) Merge(err error) {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		p.errs = multierror.Append(p.errs, err)
		return
	}
	for _, e := range ve.Errors() {
		if fe, ok := e.(*FieldError); ok {
			p.Add(fe.Field, fe.Value, fe.Reason)
			continue
		}
		p.errs = multierror.Append(p.errs, e)
	}
}

// Returns a [ValidationError], or nil when nothing was collected.
func (p *Problems) Err() error {
	if p.errs == nil || len(p.errs.Errors) == 0 {
		return nil
	}
	kind := p.Kind
	if kind == nil {
		kind = ErrInvalidMetadata
	}
	p.errs.ErrorFormat = func(errs []error) string {
		s := fmt.Sprintf("%s: %d problem(s)", kind, len(errs))
		for _, err := range errs {
			s += "\n\t* " + err.Error()
		}
		return s
	}
	return &ValidationError{kind: kind, errs: p.errs}
}
