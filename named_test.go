package sqlrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNamed(t *testing.T) {
	tests := []struct {
		clause string
		want   string
		names  []string
	}{
		{"select * from t where a=:a and b=:b", "select * from t where a=? and b=?", []string{"a", "b"}},
		{":x + :x", "? + ?", []string{"x", "x"}},
		{"select 1", "select 1", nil},
		{"select a::int from t", "select a::int from t", nil},
		{"select ':' || x", "select ':' || x", nil},
		{"a = :1", "a = :1", nil},
		{"ends with :", "ends with :", nil},
		{"ends with :name", "ends with ?", []string{"name"}},
		{"(:a,:b_2)", "(?,?)", []string{"a", "b_2"}},
		{":_under, :ünï", "?, :ünï", []string{"_under"}},
		{"a = :né", "a = ?é", []string{"n"}},
		{"x=:a\n", "x=?\n", []string{"a"}},
		{"x = :a:b", "x = ?:b", []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			pr := ParseNamed(tt.clause)
			assert.Equal(t, tt.want, pr.Clause)
			assert.Equal(t, tt.names, pr.Names)
		})
	}
}

func TestNamed(t *testing.T) {
	clause, args, err := Named("select * from t where a=:a and b=:b", map[string]any{"a": "X", "b": 10})
	require.NoError(t, err)
	assert.Equal(t, "select * from t where a=? and b=?", clause)
	assert.Equal(t, []any{"X", 10}, args)

	clause, args, err = Named(":x + :x", map[string]any{"x": 5})
	require.NoError(t, err)
	assert.Equal(t, "? + ?", clause)
	assert.Equal(t, []any{5, 5}, args)

	_, _, err = Named(":missing", map[string]any{})
	var pnf *ParameterNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "missing", pnf.Name)
}

type Params map[string]any

type person struct {
	FirstName string `db:"first_name"`
	LastName  string
	Email     string `db:"-"`
	age       int
}

func (p *person) Age() int       { return p.age }
func (p *person) SetAge(age int) { p.age = age }

func TestNamedSources(t *testing.T) {
	clause := "insert into person values (:first_name, :lastname, :AGE)"
	want := []any{"Jane", "Doe", 40}

	_, args, err := Named(clause, person{FirstName: "Jane", LastName: "Doe", age: 40})
	require.NoError(t, err)
	assert.Equal(t, want, args)

	_, args, err = Named(clause, &person{FirstName: "Jane", LastName: "Doe", age: 40})
	require.NoError(t, err)
	assert.Equal(t, want, args)

	_, args, err = Named(clause, Params{"first_name": "Jane", "lastname": "Doe", "AGE": 40})
	require.NoError(t, err)
	assert.Equal(t, want, args)

	rec := NewRecord([]string{"FIRST_NAME", "LastName", "age"}, []any{"Jane", "Doe", 40})
	_, args, err = Named(clause, rec)
	require.NoError(t, err)
	assert.Equal(t, want, args)

	_, _, err = Named("select :email", person{Email: "x"})
	var pnf *ParameterNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "email", pnf.Name)

	_, _, err = Named("select :a", 42)
	assert.ErrorAs(t, err, &pnf)
}

func TestNamedBatch(t *testing.T) {
	clause, rows, err := NamedBatch("insert into t values (:a, :b)", []map[string]any{
		{"a": 1, "b": 2},
		{"a": 3, "b": 4},
	})
	require.NoError(t, err)
	assert.Equal(t, "insert into t values (?, ?)", clause)
	assert.Equal(t, [][]any{{1, 2}, {3, 4}}, rows)

	_, _, err = NamedBatch("insert into t values (:a, :b)", []map[string]any{{"a": 1, "b": 2}, {"a": 3}})
	var pnf *ParameterNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "b", pnf.Name)

	_, _, err = NamedBatch("insert into t values (:a)", map[string]any{"a": 1})
	assert.Error(t, err)
}

func TestMissingParameterTouchesNoDatabase(t *testing.T) {
	ctx := context.Background()
	f := threeRows()
	r := f.runner()

	_, err := r.QueryNamed(":missing", map[string]any{}).Execute(ctx)
	var pnf *ParameterNotFoundError
	require.ErrorAs(t, err, &pnf)

	_, err = r.UpdateNamed("update t set a = :missing", map[string]any{}).Execute(ctx)
	require.ErrorAs(t, err, &pnf)

	_, err = r.InsertNamed("insert into t values (:missing)", map[string]any{}).Execute(ctx)
	require.ErrorAs(t, err, &pnf)

	_, err = r.BatchUpdateNamed("update t set a = :missing", []map[string]any{{}}).Execute(ctx)
	require.ErrorAs(t, err, &pnf)

	assert.Equal(t, 0, f.provider.calls)
	assert.Equal(t, [3]int{0, 0, 0}, f.closes())
}

func TestRunnerParseCache(t *testing.T) {
	r := threeRows().runner(WithParseCacheSize(1))
	a := r.Parse("select :a")
	assert.Equal(t, a, r.Parse("select :a"))
	b := r.Parse("select :b")
	assert.Equal(t, []string{"b"}, b.Names)
	assert.Equal(t, 1, r.parsed.Len())
}
