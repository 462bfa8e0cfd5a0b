package sqlrun

import (
	"bytes"
	"database/sql"
	"encoding"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Enum is implemented by named string or integer types whose values are
// stored as one of a fixed set of names. String kinds take the name
// itself, integer kinds take the name's position in EnumNames.
type Enum interface {
	EnumNames() []string
}

// converter stores src in dst, which is settable.
type converter func(dst reflect.Value, src any) error

var (
	errOverflow  = errors.New("value out of range")
	errFraction  = errors.New("value has a fractional part")
	errNoEnum    = errors.New("no enum constant")
	errNoConvert = errors.New("unsupported conversion")

	bytesType   = reflect.TypeOf([]byte(nil))
	timeType    = reflect.TypeOf(time.Time{})
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	textType    = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	enumType    = reflect.TypeOf((*Enum)(nil)).Elem()

	converters sync.Map // reflect.Type -> converter
)

// timeLayouts are tried in order when a temporal column arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"15:04:05.999999999",
}

func errScanCount(have, want int) error {
	return fmt.Errorf("expected %d destination arguments in Scan, not %d", have, want)
}

// assign converts src into the value pointed to by dest.
func assign(column string, dest any, src any) error {
	if p, ok := dest.(*any); ok {
		*p = src
		return nil
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return &TypeNotMatchError{Column: column, Type: dv.Type(), Value: src, Err: errors.New("destination not a non-nil pointer")}
	}
	return convertInto(column, dv.Elem(), src)
}

// convertInto stores src into dst using the converter for dst's type,
// naming column in any TypeNotMatchError.
func convertInto(column string, dst reflect.Value, src any) error {
	err := converterFor(dst.Type())(dst, src)
	if err == nil {
		return nil
	}
	var tm *TypeNotMatchError
	if errors.As(err, &tm) {
		if tm.Column == "" {
			tm.Column = column
		}
		return err
	}
	return &TypeNotMatchError{Column: column, Type: dst.Type(), Value: src, Err: err}
}

func converterFor(t reflect.Type) converter {
	if c, ok := converters.Load(t); ok {
		return c.(converter)
	}
	c, _ := converters.LoadOrStore(t, buildConverter(t))
	return c.(converter)
}

func buildConverter(t reflect.Type) converter {
	if t.Kind() == reflect.Pointer {
		return nullable(t)
	}
	if isPredeclared(t) {
		if c := basicConverter(t.Kind()); c != nil {
			return c
		}
	}
	switch {
	case t == bytesType:
		return convertBytes
	case t == timeType:
		return convertTime
	case t.Implements(enumType) && (isStringKind(t) || isIntKind(t)):
		return enumConverter(t)
	}
	return fallback(t)
}

// nullable maps NULL to a nil pointer and anything else through the
// element type's converter.
func nullable(t reflect.Type) converter {
	return func(dst reflect.Value, src any) error {
		if src == nil {
			dst.Set(reflect.Zero(t))
			return nil
		}
		nv := reflect.New(t.Elem())
		if err := converterFor(t.Elem())(nv.Elem(), src); err != nil {
			return err
		}
		dst.Set(nv)
		return nil
	}
}

func isPredeclared(t reflect.Type) bool {
	return t.PkgPath() == "" && t.Name() != ""
}

func isStringKind(t reflect.Type) bool { return t.Kind() == reflect.String }

func isIntKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// basicConverter returns the converter for a basic kind, or nil.
func basicConverter(k reflect.Kind) converter {
	switch k {
	case reflect.Bool:
		return convertBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return convertInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return convertUint
	case reflect.Float32, reflect.Float64:
		return convertFloat
	case reflect.String:
		return convertString
	}
	return nil
}

func mismatch(dst reflect.Value, src any, err error) error {
	return &TypeNotMatchError{Type: dst.Type(), Value: src, Err: err}
}

func asText(src any) (string, bool) {
	switch s := src.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case sql.RawBytes:
		return string(s), true
	}
	return "", false
}

func convertInt(dst reflect.Value, src any) error {
	if src == nil {
		dst.SetInt(0)
		return nil
	}
	n, err := toInt64(src)
	if err != nil {
		return mismatch(dst, src, err)
	}
	if dst.OverflowInt(n) {
		return mismatch(dst, src, errOverflow)
	}
	dst.SetInt(n)
	return nil
}

func toInt64(src any) (int64, error) {
	if s, ok := asText(src); ok {
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return floatToInt(f)
	}
	v := reflect.ValueOf(src)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if v.Uint() > math.MaxInt64 {
			return 0, errOverflow
		}
		return int64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return floatToInt(v.Float())
	case reflect.Bool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, errNoConvert
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) {
		return 0, errFraction
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errOverflow
	}
	return int64(f), nil
}

func convertUint(dst reflect.Value, src any) error {
	if src == nil {
		dst.SetUint(0)
		return nil
	}
	var n uint64
	if s, ok := asText(src); ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return mismatch(dst, src, err)
		}
		n = parsed
	} else {
		v := reflect.ValueOf(src)
		switch v.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			n = v.Uint()
		default:
			i, err := toInt64(src)
			if err != nil {
				return mismatch(dst, src, err)
			}
			if i < 0 {
				return mismatch(dst, src, errOverflow)
			}
			n = uint64(i)
		}
	}
	if dst.OverflowUint(n) {
		return mismatch(dst, src, errOverflow)
	}
	dst.SetUint(n)
	return nil
}

func convertFloat(dst reflect.Value, src any) error {
	if src == nil {
		dst.SetFloat(0)
		return nil
	}
	var f float64
	if s, ok := asText(src); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return mismatch(dst, src, err)
		}
		f = parsed
	} else {
		v := reflect.ValueOf(src)
		switch v.Kind() {
		case reflect.Float32, reflect.Float64:
			f = v.Float()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(v.Uint())
		default:
			return mismatch(dst, src, errNoConvert)
		}
	}
	if dst.OverflowFloat(f) {
		return mismatch(dst, src, errOverflow)
	}
	dst.SetFloat(f)
	return nil
}

func convertBool(dst reflect.Value, src any) error {
	switch s := src.(type) {
	case nil:
		dst.SetBool(false)
		return nil
	case bool:
		dst.SetBool(s)
		return nil
	}
	if s, ok := asText(src); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return mismatch(dst, src, err)
		}
		dst.SetBool(b)
		return nil
	}
	n, err := toInt64(src)
	if err != nil {
		return mismatch(dst, src, err)
	}
	dst.SetBool(n != 0)
	return nil
}

func convertString(dst reflect.Value, src any) error {
	switch s := src.(type) {
	case nil:
		dst.SetString("")
	case string:
		dst.SetString(s)
	case []byte:
		dst.SetString(string(s))
	case sql.RawBytes:
		dst.SetString(string(s))
	case time.Time:
		dst.SetString(s.Format(time.RFC3339Nano))
	case bool:
		dst.SetString(strconv.FormatBool(s))
	case int64:
		dst.SetString(strconv.FormatInt(s, 10))
	case float64:
		dst.SetString(strconv.FormatFloat(s, 'g', -1, 64))
	case fmt.Stringer:
		dst.SetString(s.String())
	default:
		v := reflect.ValueOf(src)
		switch v.Kind() {
		case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32:
			dst.SetString(fmt.Sprint(src))
		default:
			return mismatch(dst, src, errNoConvert)
		}
	}
	return nil
}

func convertBytes(dst reflect.Value, src any) error {
	switch s := src.(type) {
	case nil:
		dst.SetBytes(nil)
	case []byte:
		dst.SetBytes(bytes.Clone(s))
	case sql.RawBytes:
		dst.SetBytes(bytes.Clone(s))
	case string:
		dst.SetBytes([]byte(s))
	default:
		return mismatch(dst, src, errNoConvert)
	}
	return nil
}

// convertTime keeps millisecond precision; finer fractions are dropped.
func convertTime(dst reflect.Value, src any) error {
	var t time.Time
	switch s := src.(type) {
	case nil:
	case time.Time:
		t = s
	default:
		text, ok := asText(src)
		if !ok {
			return mismatch(dst, src, errNoConvert)
		}
		parsed, err := parseTime(strings.TrimSpace(text))
		if err != nil {
			return mismatch(dst, src, err)
		}
		t = parsed
	}
	dst.Set(reflect.ValueOf(t.Truncate(time.Millisecond)))
	return nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}

func enumConverter(t reflect.Type) converter {
	names := reflect.Zero(t).Interface().(Enum).EnumNames()
	return func(dst reflect.Value, src any) error {
		if src == nil {
			dst.Set(reflect.Zero(t))
			return nil
		}
		name, ok := asText(src)
		if !ok {
			return mismatch(dst, src, errNoEnum)
		}
		for i, n := range names {
			if n != name {
				continue
			}
			if isStringKind(t) {
				dst.SetString(n)
			} else if dst.CanInt() {
				dst.SetInt(int64(i))
			} else {
				dst.SetUint(uint64(i))
			}
			return nil
		}
		return mismatch(dst, src, fmt.Errorf("%w %v.%s", errNoEnum, t, name))
	}
}

// fallback handles every other destination type: scanners first, then
// text unmarshalers, then named basic kinds, then plain assignment.
func fallback(t reflect.Type) converter {
	pt := reflect.PointerTo(t)
	switch {
	case t.Implements(scannerType):
		return func(dst reflect.Value, src any) error {
			return dst.Interface().(sql.Scanner).Scan(src)
		}
	case pt.Implements(scannerType):
		return func(dst reflect.Value, src any) error {
			return dst.Addr().Interface().(sql.Scanner).Scan(src)
		}
	case pt.Implements(textType):
		return func(dst reflect.Value, src any) error {
			if src == nil {
				dst.Set(reflect.Zero(t))
				return nil
			}
			text, ok := asText(src)
			if !ok {
				return assignValue(dst, src)
			}
			return dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(text))
		}
	}
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		return func(dst reflect.Value, src any) error {
			tmp := reflect.New(bytesType).Elem()
			if err := convertBytes(tmp, src); err != nil {
				return err
			}
			dst.Set(tmp.Convert(t))
			return nil
		}
	}
	if basic := basicConverter(t.Kind()); basic != nil {
		return basic
	}
	return assignValue
}

func assignValue(dst reflect.Value, src any) error {
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	switch {
	case sv.Type().AssignableTo(dst.Type()):
		dst.Set(sv)
	case sv.Kind() == dst.Kind() && sv.Type().ConvertibleTo(dst.Type()):
		dst.Set(sv.Convert(dst.Type()))
	case dst.Kind() == reflect.Interface && sv.Type().Implements(dst.Type()):
		dst.Set(sv)
	default:
		return mismatch(dst, src, errNoConvert)
	}
	return nil
}
