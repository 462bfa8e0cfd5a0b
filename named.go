package sqlrun

// Named parameter support: `:name` placeholders are rewritten to `?` and
// their values resolved, in order, from a map, a struct or a Record.

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

// ParseResult is a clause with its named placeholders replaced by `?`,
// and the placeholder names in order of appearance. A name used twice
// appears twice.
type ParseResult struct {
	Clause string
	Names  []string
}

type parseState uint8

const (
	stateNormal parseState = iota
	stateExpectName
	stateInName
)

// Names are ASCII identifiers: [A-Za-z_][A-Za-z0-9_]*.
func isNameStart(r rune) bool { return r == '_' || 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' }
func isNamePart(r rune) bool  { return isNameStart(r) || '0' <= r && r <= '9' }

// ParseNamed rewrites every `:name` placeholder in clause to `?`. A colon
// that is not followed by a letter or underscore is left as literal text,
// so `a::int` and `':'` pass through untouched.
func ParseNamed(clause string) ParseResult {
	var (
		out   strings.Builder
		names []string
		start int
		state = stateNormal
	)
	out.Grow(len(clause))
	for i := 0; i < len(clause); {
		r, w := utf8.DecodeRuneInString(clause[i:])
		chunk := clause[i : i+w]
		switch state {
		case stateNormal:
			if r == ':' {
				state = stateExpectName
			} else {
				out.WriteString(chunk)
			}
		case stateExpectName:
			if isNameStart(r) {
				start = i
				state = stateInName
			} else {
				out.WriteByte(':')
				out.WriteString(chunk)
				state = stateNormal
			}
		case stateInName:
			if !isNamePart(r) {
				names = append(names, clause[start:i])
				out.WriteByte('?')
				out.WriteString(chunk)
				state = stateNormal
			}
		}
		i += w
	}
	switch state {
	case stateExpectName:
		out.WriteByte(':')
	case stateInName:
		names = append(names, clause[start:])
		out.WriteByte('?')
	}
	return ParseResult{Clause: out.String(), Names: names}
}

// Named translates clause and resolves its parameters from arg, which is
// a map with string keys, a struct, a pointer to a struct or a *Record.
func Named(clause string, arg any) (string, []any, error) {
	pr := ParseNamed(clause)
	args, err := bindNamed(pr.Names, arg, defaultMapping())
	if err != nil {
		return "", nil, err
	}
	return pr.Clause, args, nil
}

// NamedBatch translates clause once and resolves one parameter row per
// element of args, which must be a slice or array of sources accepted by
// Named.
func NamedBatch(clause string, args any) (string, [][]any, error) {
	pr := ParseNamed(clause)
	rows, err := bindNamedBatch(pr.Names, args, defaultMapping())
	if err != nil {
		return "", nil, err
	}
	return pr.Clause, rows, nil
}

func convertMapStringInterface(v any) (map[string]any, bool) {
	var m map[string]any
	mtype := reflect.TypeOf(m)
	t := reflect.TypeOf(v)
	if t == nil || !t.ConvertibleTo(mtype) {
		return nil, false
	}
	return reflect.ValueOf(v).Convert(mtype).Interface().(map[string]any), true
}

func bindNamed(names []string, arg any, m *Mapping) ([]any, error) {
	if rec, ok := arg.(*Record); ok {
		return bindRecordArgs(names, rec)
	}
	if maparg, ok := convertMapStringInterface(arg); ok {
		return bindMapArgs(names, maparg)
	}
	return bindStructArgs(names, arg, m)
}

func bindNamedBatch(names []string, args any, m *Mapping) ([][]any, error) {
	v := reflect.ValueOf(args)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("sqlrun: batch arguments must be a slice, got %T", args)
	}
	rows := make([][]any, v.Len())
	for i := range rows {
		row, err := bindNamed(names, v.Index(i).Interface(), m)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}

func bindMapArgs(names []string, arg map[string]any) ([]any, error) {
	arglist := make([]any, 0, len(names))
	for _, name := range names {
		val, ok := arg[name]
		if !ok {
			return nil, &ParameterNotFoundError{Name: name}
		}
		arglist = append(arglist, val)
	}
	return arglist, nil
}

func bindRecordArgs(names []string, rec *Record) ([]any, error) {
	arglist := make([]any, 0, len(names))
	for _, name := range names {
		val, err := rec.Get(name)
		if err != nil {
			return nil, &ParameterNotFoundError{Name: name}
		}
		arglist = append(arglist, val)
	}
	return arglist, nil
}

func bindStructArgs(names []string, arg any, m *Mapping) ([]any, error) {
	if len(names) == 0 {
		return nil, nil
	}
	v := reflect.ValueOf(arg)
	for v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, &ParameterNotFoundError{Name: names[0]}
	}
	if !v.CanAddr() {
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		v = cp
	}
	sm, err := m.typeMap(v.Type())
	if err != nil {
		return nil, err
	}
	arglist := make([]any, 0, len(names))
	for _, name := range names {
		p, ok := sm.Lookup(name)
		if !ok {
			return nil, &ParameterNotFoundError{Name: name}
		}
		val, err := p.Get(v)
		if err != nil {
			return nil, &ReflectionError{Type: v.Type(), Err: err}
		}
		arglist = append(arglist, val.Interface())
	}
	return arglist, nil
}
