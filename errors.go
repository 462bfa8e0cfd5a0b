package sqlrun

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrTooManyResults is returned by One when the result has more than one row.
	ErrTooManyResults = errors.New("sqlrun: more than one row in result")
	// ErrNoMoreRows is returned by Cursor.Next after the last row.
	ErrNoMoreRows = errors.New("sqlrun: no more rows")
	// ErrClosed is returned when a closed result set or cursor is used.
	ErrClosed = errors.New("sqlrun: use of closed result")
	// ErrExecuted is returned when a builder is executed twice.
	ErrExecuted = errors.New("sqlrun: statement already executed")
)

// DriverError wraps a failure reported by the database driver.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("sqlrun: %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

func driverErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}
	return &DriverError{Op: op, Err: err}
}

// ParameterNotFoundError is returned when a named parameter has no value
// in the argument supplied for it.
type ParameterNotFoundError struct {
	Name string
}

func (e *ParameterNotFoundError) Error() string {
	return fmt.Sprintf("sqlrun: parameter %q not found", e.Name)
}

// ColumnNotFoundError is returned by Record lookups for an unknown column.
type ColumnNotFoundError struct {
	Name string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("sqlrun: column %q not found", e.Name)
}

// TypeNotMatchError reports a column value that cannot be represented by
// the destination type.
type TypeNotMatchError struct {
	Column string
	Type   reflect.Type
	Value  any
	Err    error
}

func (e *TypeNotMatchError) Error() string {
	var b strings.Builder
	b.WriteString("sqlrun: cannot convert ")
	if e.Column != "" {
		fmt.Fprintf(&b, "column %q ", e.Column)
	}
	fmt.Fprintf(&b, "value %v (%T) to %v", e.Value, e.Value, e.Type)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TypeNotMatchError) Unwrap() error { return e.Err }

// MissingPropertyError is returned in strict mode when a column has no
// matching property on the destination struct.
type MissingPropertyError struct {
	Type   reflect.Type
	Column string
}

func (e *MissingPropertyError) Error() string {
	return fmt.Sprintf("sqlrun: missing destination name %q in %v", e.Column, e.Type)
}

// ReflectionError is returned when a destination type cannot be
// introspected or instantiated.
type ReflectionError struct {
	Type reflect.Type
	Err  error
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("sqlrun: %v: %v", e.Type, e.Err)
}

func (e *ReflectionError) Unwrap() error { return e.Err }

// CleanupError carries a primary failure together with the failures that
// happened while releasing resources after it.
type CleanupError struct {
	Err        error
	Suppressed []error
}

func (e *CleanupError) Error() string {
	if len(e.Suppressed) == 0 {
		return e.Err.Error()
	}
	msgs := make([]string, len(e.Suppressed))
	for i, s := range e.Suppressed {
		msgs[i] = s.Error()
	}
	return fmt.Sprintf("%v (suppressed: %s)", e.Err, strings.Join(msgs, "; "))
}

// Unwrap returns the primary failure only.
func (e *CleanupError) Unwrap() error { return e.Err }

// Suppressed returns the secondary failures attached to err, if any.
func Suppressed(err error) []error {
	var ce *CleanupError
	if errors.As(err, &ce) {
		return ce.Suppressed
	}
	return nil
}

// suppress attaches secondary to primary. A nil primary promotes the first
// non-nil secondary.
func suppress(primary error, secondary ...error) error {
	var extra []error
	for _, s := range secondary {
		if s == nil {
			continue
		}
		if ce, ok := s.(*CleanupError); ok {
			extra = append(extra, ce.Err)
			extra = append(extra, ce.Suppressed...)
			continue
		}
		extra = append(extra, s)
	}
	if len(extra) == 0 {
		return primary
	}
	if primary == nil {
		primary, extra = extra[0], extra[1:]
		if len(extra) == 0 {
			return primary
		}
	}
	if ce, ok := primary.(*CleanupError); ok {
		return &CleanupError{Err: ce.Err, Suppressed: append(append([]error{}, ce.Suppressed...), extra...)}
	}
	return &CleanupError{Err: primary, Suppressed: extra}
}
