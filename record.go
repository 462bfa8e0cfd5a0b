package sqlrun

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Record is a snapshot of one row. Names keep the case the driver
// reported; lookups by name ignore case, and on duplicate names the first
// column wins.
type Record struct {
	names  []string
	values []any

	once  sync.Once
	index map[string]int
}

// NewRecord builds a record from parallel name and value slices.
func NewRecord(names []string, values []any) *Record {
	return &Record{names: names, values: values}
}

// Len returns the number of columns.
func (r *Record) Len() int { return len(r.values) }

// Names returns the column names in result order.
func (r *Record) Names() []string { return r.names }

// Values returns the column values in result order.
func (r *Record) Values() []any { return r.values }

// Value returns the value at column position i.
func (r *Record) Value(i int) any { return r.values[i] }

func (r *Record) lookup(name string) (int, bool) {
	r.once.Do(func() {
		r.index = make(map[string]int, len(r.names))
		for i, n := range r.names {
			key := strings.ToLower(n)
			if _, ok := r.index[key]; !ok {
				r.index[key] = i
			}
		}
	})
	i, ok := r.index[strings.ToLower(name)]
	return i, ok
}

// Has reports whether the record has a column called name.
func (r *Record) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Get returns the value of the named column.
func (r *Record) Get(name string) (any, error) {
	i, ok := r.lookup(name)
	if !ok {
		return nil, &ColumnNotFoundError{Name: name}
	}
	return r.values[i], nil
}

// Map copies the record into a map keyed by column name.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.names))
	for i, n := range r.names {
		if _, ok := m[n]; !ok {
			m[n] = r.values[i]
		}
	}
	return m
}

func (r *Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, n := range r.names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", n, r.values[i])
	}
	b.WriteByte('}')
	return b.String()
}

// Field returns the named column of r converted to T.
func Field[T any](r *Record, name string) (T, error) {
	var out T
	v, err := r.Get(name)
	if err != nil {
		return out, err
	}
	err = convertInto(name, reflect.ValueOf(&out).Elem(), v)
	return out, err
}
