// Package reflectx discovers the settable properties of struct types and
// caches them per type.
//
// A property is either an exported field, reached through any number of
// embedded structs, or an accessor pair: a `Name() T` (or `GetName() T`)
// method together with a `SetName(T)` or `SetName(T) error` method on the
// pointer type. Column names default to the Go name; a `db:"col"` tag or a
// ColumnNamer implementation overrides them, and `db:"-"` skips a field.
package reflectx

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// ErrNotStruct is returned by TypeMap for non-struct types.
var ErrNotStruct = errors.New("reflectx: not a struct type")

// DefaultCacheSize bounds the number of struct types a Mapper remembers.
const DefaultCacheSize = 1024

// Property gets and sets a single named value on a struct.
type Property interface {
	// Name is the Go name of the property.
	Name() string
	// Column is the column name the property binds to.
	Column() string
	// Type is the declared type of the property.
	Type() reflect.Type
	// Get reads the property from the addressable struct value v.
	Get(v reflect.Value) (reflect.Value, error)
	// Set writes x to the property of the addressable struct value v.
	Set(v reflect.Value, x reflect.Value) error
}

// ColumnNamer lets a type override column names by property name without
// struct tags.
type ColumnNamer interface {
	ColumnNames() map[string]string
}

// StructMap is the discovered property set of one struct type.
type StructMap struct {
	Type       reflect.Type
	Properties []Property
	byName     map[string]Property
}

// Lookup finds a property by column name, case-insensitively.
func (m *StructMap) Lookup(name string) (Property, bool) {
	p, ok := m.byName[strings.ToLower(name)]
	return p, ok
}

// Mapper caches StructMaps per type. Lookups of cached types only take a
// read lock; building a missing entry is serialised on a separate mutex
// so that it never holds up readers.
type Mapper struct {
	tagName string

	mu    sync.RWMutex
	cache *simplelru.LRU[reflect.Type, *StructMap]

	build sync.Mutex
}

// NewMapper returns a Mapper reading column overrides from tagName that
// remembers at most size types. Eviction is by insertion age.
func NewMapper(tagName string, size int) *Mapper {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := simplelru.NewLRU[reflect.Type, *StructMap](size, nil)
	if err != nil {
		panic(err)
	}
	return &Mapper{tagName: tagName, cache: cache}
}

// TypeMap returns the property set for t, which must be a struct or a
// pointer to one.
func (m *Mapper) TypeMap(t reflect.Type) (*StructMap, error) {
	t = Deref(t)
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v", ErrNotStruct, t)
	}
	if sm, ok := m.peek(t); ok {
		return sm, nil
	}

	m.build.Lock()
	defer m.build.Unlock()
	if sm, ok := m.peek(t); ok {
		return sm, nil
	}
	sm, err := buildStructMap(t, m.tagName)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cache.Add(t, sm)
	m.mu.Unlock()
	return sm, nil
}

// Len reports the number of cached types.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Len()
}

func (m *Mapper) peek(t reflect.Type) (*StructMap, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Peek(t)
}

// Deref strips all pointer levels from t.
func Deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// IsValueType reports whether t is read as a single column value rather
// than expanded into properties.
func IsValueType(t reflect.Type) bool {
	t = Deref(t)
	if t.Kind() != reflect.Struct {
		return true
	}
	return t == timeType || reflect.PointerTo(t).Implements(scannerType)
}

func buildStructMap(t reflect.Type, tagName string) (*StructMap, error) {
	sm := &StructMap{Type: t, byName: make(map[string]Property)}
	var overrides map[string]string
	if cn, ok := reflect.New(t).Interface().(ColumnNamer); ok {
		overrides = cn.ColumnNames()
	}
	add := func(p Property) {
		key := strings.ToLower(p.Column())
		if _, ok := sm.byName[key]; ok {
			return
		}
		sm.byName[key] = p
		sm.Properties = append(sm.Properties, p)
	}
	column := func(name, tagged string) string {
		if c, ok := overrides[name]; ok && c != "" {
			return c
		}
		if tagged != "" {
			return tagged
		}
		return name
	}

	var walk func(t reflect.Type, base []int, prefix string)
	walk = func(t reflect.Type, base []int, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() && (!sf.Anonymous || sf.Type.Kind() == reflect.Pointer) {
				// a nil unexported embedded pointer cannot be allocated
				continue
			}
			name, inline, omit := parseTag(sf.Tag.Get(tagName))
			if omit {
				continue
			}
			path := append(append([]int(nil), base...), i)
			ft := Deref(sf.Type)
			if ft.Kind() == reflect.Struct && !IsValueType(ft) {
				switch {
				case inline || (sf.Anonymous && name == ""):
					walk(ft, path, prefix)
					continue
				case sf.IsExported():
					walk(ft, path, prefix+column(sf.Name, name)+".")
					continue
				}
			}
			if !sf.IsExported() {
				continue
			}
			add(&fieldProperty{
				name:   sf.Name,
				column: prefix + column(sf.Name, name),
				typ:    sf.Type,
				index:  path,
			})
		}
	}
	walk(t, nil, "")

	for _, p := range accessorPairs(t) {
		p.column = column(p.name, "")
		add(p)
	}
	return sm, nil
}

// parseTag supports "-", "col", ",inline" and "col,inline".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	for i, part := range strings.Split(tag, ",") {
		if part == "inline" {
			inline = true
		} else if i == 0 {
			name = part
		}
	}
	return name, inline, false
}

func accessorPairs(t reflect.Type) []*accessorProperty {
	pt := reflect.PointerTo(t)
	var out []*accessorProperty
	for i := 0; i < pt.NumMethod(); i++ {
		set := pt.Method(i)
		name, ok := strings.CutPrefix(set.Name, "Set")
		if !ok || name == "" {
			continue
		}
		mt := set.Type
		if mt.NumIn() != 2 || mt.NumOut() > 1 || (mt.NumOut() == 1 && mt.Out(0) != errorType) {
			continue
		}
		arg := mt.In(1)
		get, ok := pt.MethodByName(name)
		if !ok {
			get, ok = pt.MethodByName("Get" + name)
		}
		if !ok || get.Type.NumIn() != 1 || get.Type.NumOut() != 1 || get.Type.Out(0) != arg {
			continue
		}
		out = append(out, &accessorProperty{
			name:   name,
			typ:    arg,
			getter: get.Index,
			setter: set.Index,
		})
	}
	return out
}

type fieldProperty struct {
	name   string
	column string
	typ    reflect.Type
	index  []int
}

func (p *fieldProperty) Name() string       { return p.name }
func (p *fieldProperty) Column() string     { return p.column }
func (p *fieldProperty) Type() reflect.Type { return p.typ }

func (p *fieldProperty) Get(v reflect.Value) (reflect.Value, error) {
	for n, i := range p.index {
		if n > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Zero(p.typ), nil
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, nil
}

func (p *fieldProperty) Set(v reflect.Value, x reflect.Value) error {
	f, err := FieldByIndexes(v, p.index)
	if err != nil {
		return err
	}
	if !f.CanSet() {
		return fmt.Errorf("reflectx: field %s is not settable", p.name)
	}
	f.Set(x)
	return nil
}

// FieldByIndexes returns the field at index of v, allocating nil embedded
// pointers on the way. It fails when such a pointer cannot be set.
func FieldByIndexes(v reflect.Value, index []int) (reflect.Value, error) {
	for n, i := range index {
		if n > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}, fmt.Errorf("reflectx: cannot allocate nil embedded %s", v.Type())
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, nil
}

type accessorProperty struct {
	name   string
	column string
	typ    reflect.Type
	getter int
	setter int
}

func (p *accessorProperty) Name() string       { return p.name }
func (p *accessorProperty) Column() string     { return p.column }
func (p *accessorProperty) Type() reflect.Type { return p.typ }

func (p *accessorProperty) Get(v reflect.Value) (reflect.Value, error) {
	if !v.CanAddr() {
		return reflect.Value{}, fmt.Errorf("reflectx: %s: value is not addressable", p.name)
	}
	return v.Addr().Method(p.getter).Call(nil)[0], nil
}

func (p *accessorProperty) Set(v reflect.Value, x reflect.Value) error {
	if !v.CanAddr() {
		return fmt.Errorf("reflectx: %s: value is not addressable", p.name)
	}
	out := v.Addr().Method(p.setter).Call([]reflect.Value{x})
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}
