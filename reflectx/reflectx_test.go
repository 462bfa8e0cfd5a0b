package reflectx

import (
	"database/sql"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Base struct {
	ID        int
	CreatedAt time.Time `db:"created_at"`
}

type Place struct {
	City string
}

type Person struct {
	*Base
	Name    string `db:"full_name,omitempty"`
	Place   Place
	Home    Place `db:",inline"`
	Skip    string `db:"-"`
	Nick    sql.NullString
	private string
	score   int
}

func (p *Person) Score() int { return p.score }
func (p *Person) SetScore(s int) error {
	if s < 0 {
		return errors.New("negative score")
	}
	p.score = s
	return nil
}

type Renamed struct {
	Code string
}

func (Renamed) ColumnNames() map[string]string {
	return map[string]string{"Code": "product_code"}
}

func TestTypeMap(t *testing.T) {
	m := NewMapper("db", 8)
	sm, err := m.TypeMap(reflect.TypeOf(&Person{}))
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(Person{}), sm.Type)

	var cols []string
	for _, p := range sm.Properties {
		cols = append(cols, p.Column())
	}
	assert.Equal(t, []string{"ID", "created_at", "full_name", "Place.City", "City", "Nick", "Score"}, cols)

	for _, name := range []string{"id", "CREATED_AT", "Full_Name", "place.city", "city", "score"} {
		_, ok := sm.Lookup(name)
		assert.True(t, ok, name)
	}
	for _, name := range []string{"skip", "private", "name"} {
		_, ok := sm.Lookup(name)
		assert.False(t, ok, name)
	}

	again, err := m.TypeMap(reflect.TypeOf(Person{}))
	require.NoError(t, err)
	assert.Same(t, sm, again)
	assert.Equal(t, 1, m.Len())

	_, err = m.TypeMap(reflect.TypeOf(1))
	assert.ErrorIs(t, err, ErrNotStruct)
}

func TestPropertyGetSet(t *testing.T) {
	m := NewMapper("db", 8)
	sm, err := m.TypeMap(reflect.TypeOf(Person{}))
	require.NoError(t, err)

	var p Person
	v := reflect.ValueOf(&p).Elem()

	id, _ := sm.Lookup("id")
	got, err := id.Get(v)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Interface(), "nil embedded pointer reads as zero")

	require.NoError(t, id.Set(v, reflect.ValueOf(42)))
	require.NotNil(t, p.Base, "embedded pointer allocated on set")
	assert.Equal(t, 42, p.ID)

	city, _ := sm.Lookup("place.city")
	require.NoError(t, city.Set(v, reflect.ValueOf("Oslo")))
	assert.Equal(t, "Oslo", p.Place.City)

	score, _ := sm.Lookup("score")
	assert.Equal(t, reflect.TypeOf(0), score.Type())
	require.NoError(t, score.Set(v, reflect.ValueOf(7)))
	got, err = score.Get(v)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Interface())
	assert.EqualError(t, score.Set(v, reflect.ValueOf(-1)), "negative score")
}

type hidden struct {
	X int
}

type Outer struct {
	*hidden
	ID int
}

func TestUnexportedEmbeddedPointer(t *testing.T) {
	m := NewMapper("db", 8)
	sm, err := m.TypeMap(reflect.TypeOf(Outer{}))
	require.NoError(t, err)
	_, ok := sm.Lookup("x")
	assert.False(t, ok, "fields behind an unexported embedded pointer are not mapped")
	id, ok := sm.Lookup("id")
	require.True(t, ok)

	var o Outer
	v := reflect.ValueOf(&o).Elem()
	require.NoError(t, id.Set(v, reflect.ValueOf(3)))
	assert.Equal(t, 3, o.ID)

	_, err = FieldByIndexes(v, []int{0, 0})
	assert.Error(t, err)
	assert.Nil(t, o.hidden)
}

func TestColumnNamer(t *testing.T) {
	sm, err := NewMapper("db", 8).TypeMap(reflect.TypeOf(Renamed{}))
	require.NoError(t, err)
	p, ok := sm.Lookup("PRODUCT_CODE")
	require.True(t, ok)
	assert.Equal(t, "Code", p.Name())
	_, ok = sm.Lookup("code")
	assert.False(t, ok)
}

func TestIsValueType(t *testing.T) {
	assert.True(t, IsValueType(reflect.TypeOf(1)))
	assert.True(t, IsValueType(reflect.TypeOf(time.Time{})))
	assert.True(t, IsValueType(reflect.TypeOf(&sql.NullString{})))
	assert.False(t, IsValueType(reflect.TypeOf(Person{})))
}

func TestMapperConcurrentAndBounded(t *testing.T) {
	m := NewMapper("db", 2)
	types := []reflect.Type{reflect.TypeOf(Person{}), reflect.TypeOf(Place{}), reflect.TypeOf(Base{}), reflect.TypeOf(Renamed{})}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sm, err := m.TypeMap(types[i%len(types)])
			assert.NoError(t, err)
			assert.Equal(t, types[i%len(types)], sm.Type)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, m.Len(), 2)
}
