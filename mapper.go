package sqlrun

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vinovest/sqlrun/reflectx"
)

// RowMapper converts the current row of a cursor into a T.
type RowMapper[T any] interface {
	MapRow(columns []string, row RowScanner) (T, error)
}

// RowMapperFunc adapts a function to RowMapper.
type RowMapperFunc[T any] func(columns []string, row RowScanner) (T, error)

func (f RowMapperFunc[T]) MapRow(columns []string, row RowScanner) (T, error) {
	return f(columns, row)
}

func scanValues(columns []string, row RowScanner) ([]any, error) {
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		return nil, driverErr("scan", err)
	}
	return values, nil
}

// RecordMapper maps rows to *Record.
func RecordMapper() RowMapper[*Record] {
	return RowMapperFunc[*Record](func(columns []string, row RowScanner) (*Record, error) {
		values, err := scanValues(columns, row)
		if err != nil {
			return nil, err
		}
		return NewRecord(columns, values), nil
	})
}

// MapMapper maps rows to map[string]any. On duplicate column names the
// first column wins.
func MapMapper() RowMapper[map[string]any] {
	return RowMapperFunc[map[string]any](func(columns []string, row RowScanner) (map[string]any, error) {
		values, err := scanValues(columns, row)
		if err != nil {
			return nil, err
		}
		return NewRecord(columns, values).Map(), nil
	})
}

// ArrayMapper maps rows to []any, one element per column in column order.
func ArrayMapper() RowMapper[[]any] {
	return RowMapperFunc[[]any](scanValues)
}

// Scalar maps a single-column row to T.
func Scalar[T any]() RowMapper[T] {
	return RowMapperFunc[T](func(columns []string, row RowScanner) (T, error) {
		var out T
		if len(columns) != 1 {
			return out, &TypeNotMatchError{
				Type: reflect.TypeOf(&out).Elem(),
				Err:  fmt.Errorf("scannable dest type %T with >1 columns (%d) in result", out, len(columns)),
			}
		}
		values, err := scanValues(columns, row)
		if err != nil {
			return out, err
		}
		err = convertInto(columns[0], reflect.ValueOf(&out).Elem(), values[0])
		return out, err
	})
}

// Column maps column i of each row to T.
func Column[T any](i int) RowMapper[T] {
	return RowMapperFunc[T](func(columns []string, row RowScanner) (T, error) {
		var out T
		if i < 0 || i >= len(columns) {
			return out, &ColumnNotFoundError{Name: fmt.Sprintf("#%d", i)}
		}
		values, err := scanValues(columns, row)
		if err != nil {
			return out, err
		}
		err = convertInto(columns[i], reflect.ValueOf(&out).Elem(), values[i])
		return out, err
	})
}

// Struct maps rows onto the properties of T, a struct or a pointer to one.
// Columns without a matching property are skipped, or rejected with a
// MissingPropertyError when strict is set.
func Struct[T any](m *Mapping, strict bool) RowMapper[T] {
	if m == nil {
		m = defaultMapping()
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	base, isPtr := t, false
	if t.Kind() == reflect.Pointer {
		base, isPtr = t.Elem(), true
	}
	return RowMapperFunc[T](func(columns []string, row RowScanner) (T, error) {
		var out T
		if base.Kind() != reflect.Struct {
			return out, &ReflectionError{Type: t, Err: reflectx.ErrNotStruct}
		}
		p, err := m.plan(base, columns)
		if err != nil {
			return out, err
		}
		if strict && p.missing >= 0 {
			return out, &MissingPropertyError{Type: base, Column: columns[p.missing]}
		}
		values, err := scanValues(columns, row)
		if err != nil {
			return out, err
		}
		nv := reflect.New(base)
		for i, prop := range p.props {
			if prop == nil {
				continue
			}
			tmp := reflect.New(prop.Type()).Elem()
			if err := convertInto(columns[i], tmp, values[i]); err != nil {
				return out, err
			}
			if err := prop.Set(nv.Elem(), tmp); err != nil {
				return out, &ReflectionError{Type: base, Err: err}
			}
		}
		if isPtr {
			return nv.Interface().(T), nil
		}
		return nv.Elem().Interface().(T), nil
	})
}

// mapperFor picks the default mapper for T.
func mapperFor[T any](m *Mapping, strict bool) RowMapper[T] {
	var zero T
	switch any(zero).(type) {
	case *Record:
		return any(RecordMapper()).(RowMapper[T])
	case map[string]any:
		return any(MapMapper()).(RowMapper[T])
	case []any:
		return any(ArrayMapper()).(RowMapper[T])
	}
	if m == nil {
		m = defaultMapping()
	}
	if m.isScannable(reflect.TypeOf((*T)(nil)).Elem()) {
		return Scalar[T]()
	}
	return Struct[T](m, strict)
}

// Mapping resolves column sets to struct properties. It owns two caches:
// the per-type property sets and the per (type, column set) plans built
// from them. A Mapping is safe for concurrent use.
type Mapping struct {
	mapper *reflectx.Mapper
	plans  *lru.Cache[planKey, *plan]
}

// DefaultTag is the struct tag read for column name overrides.
const DefaultTag = "db"

// DefaultPlanCacheSize bounds the number of cached column plans.
const DefaultPlanCacheSize = 4096

// NewMapping returns a Mapping reading column overrides from the tagName
// struct tag. Both caches are bounded LRUs.
func NewMapping(tagName string, size int) *Mapping {
	if size <= 0 {
		size = DefaultPlanCacheSize
	}
	plans, err := lru.New[planKey, *plan](size)
	if err != nil {
		panic(err)
	}
	return &Mapping{
		mapper: reflectx.NewMapper(tagName, reflectx.DefaultCacheSize),
		plans:  plans,
	}
}

var (
	defaultMappingOnce sync.Once
	defaultMappingVal  *Mapping
)

func defaultMapping() *Mapping {
	defaultMappingOnce.Do(func() {
		defaultMappingVal = NewMapping(DefaultTag, DefaultPlanCacheSize)
	})
	return defaultMappingVal
}

type planKey struct {
	t    reflect.Type
	cols string
}

// plan is a position to property mapping for one column set.
type plan struct {
	props   []reflectx.Property
	missing int
}

func (m *Mapping) typeMap(t reflect.Type) (*reflectx.StructMap, error) {
	sm, err := m.mapper.TypeMap(t)
	if err != nil {
		return nil, &ReflectionError{Type: t, Err: err}
	}
	return sm, nil
}

func (m *Mapping) isScannable(t reflect.Type) bool {
	if reflectx.IsValueType(t) {
		return true
	}
	sm, err := m.mapper.TypeMap(t)
	return err != nil || len(sm.Properties) == 0
}

func (m *Mapping) plan(t reflect.Type, columns []string) (*plan, error) {
	key := planKey{t: t, cols: strings.Join(columns, "\x00")}
	if p, ok := m.plans.Get(key); ok {
		return p, nil
	}
	sm, err := m.typeMap(t)
	if err != nil {
		return nil, err
	}
	p := &plan{props: make([]reflectx.Property, len(columns)), missing: -1}
	for i, col := range columns {
		prop, ok := sm.Lookup(col)
		if !ok {
			prop, ok = sm.Lookup(strings.ReplaceAll(col, "_", ""))
		}
		if !ok {
			if p.missing < 0 {
				p.missing = i
			}
			continue
		}
		p.props[i] = prop
	}
	m.plans.Add(key, p)
	return p, nil
}

// PlanCount reports the number of cached column plans.
func (m *Mapping) PlanCount() int { return m.plans.Len() }
