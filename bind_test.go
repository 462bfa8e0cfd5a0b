package sqlrun

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func BenchmarkBindvarFor(b *testing.B) {
	testDrivers := []string{
		"postgres", "pgx", "mysql", "sqlite3", "ora", "sqlserver",
	}
	var seq []int
	for i := 0; i < b.N; i++ {
		seq = append(seq, rand.Intn(len(testDrivers)))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if BindvarFor(testDrivers[seq[i]]) == UNKNOWN {
			b.Error("unknown driver")
		}
	}
}

func TestBindvarFor(t *testing.T) {
	assert.Equal(t, DOLLAR, BindvarFor("postgres"))
	assert.Equal(t, QUESTION, BindvarFor("mysql"))
	assert.Equal(t, QUESTION, BindvarFor("sqlite3"))
	assert.Equal(t, NAMED, BindvarFor("godror"))
	assert.Equal(t, AT, BindvarFor("sqlserver"))
	assert.Equal(t, UNKNOWN, BindvarFor("nosuchdriver"))

	RegisterBindvar("nosuchdriver", DOLLAR)
	assert.Equal(t, DOLLAR, BindvarFor("nosuchdriver"))
}

func TestRebind(t *testing.T) {
	q := `INSERT INTO foo (a, b, c, d, e, f) VALUES (?, ?, ?, ?, ?, ?)`
	assert.Equal(t, `INSERT INTO foo (a, b, c, d, e, f) VALUES ($1, $2, $3, $4, $5, $6)`, Rebind(DOLLAR, q))
	assert.Equal(t, `INSERT INTO foo (a, b, c, d, e, f) VALUES (:arg1, :arg2, :arg3, :arg4, :arg5, :arg6)`, Rebind(NAMED, q))
	assert.Equal(t, `INSERT INTO foo (a, b, c, d, e, f) VALUES (@p1, @p2, @p3, @p4, @p5, @p6)`, Rebind(AT, q))
	assert.Equal(t, q, Rebind(QUESTION, q))
	assert.Equal(t, q, Rebind(UNKNOWN, q))

	q = `SELECT * FROM t WHERE a = '?' AND b = ? -- c = ?`
	assert.Equal(t, `SELECT * FROM t WHERE a = '?' AND b = $1 -- c = ?`, Rebind(DOLLAR, q))
}

func TestInNotSlice(t *testing.T) {
	now := time.Now()
	args := []any{[]string{"a", "b"}, now}
	query := ` SELECT * FROM person WHERE first_name IN (?) AND id IN ( SELECT id FROM something WHERE created_at = ? )`
	insql, newArgs, err := In(query, args...)
	require.NoError(t, err)
	assert.Contains(t, insql, "IN (?, ?)")
	assert.Contains(t, insql, "WHERE created_at = ? )")
	assert.Equal(t, []any{"a", "b", now}, newArgs)
}

func TestIn(t *testing.T) {
	type tr struct {
		q    string
		args []any
		c    int
	}
	tests := []tr{
		{"SELECT * FROM foo WHERE x = ? AND v in (?) AND y = ?", []any{"foo", []int{0, 5, 7, 2, 9}, "bar"}, 7},
		{"SELECT * FROM foo WHERE x in (?)", []any{[]int{1, 2, 3, 4, 5, 6, 7, 8}}, 8},
		{"SELECT * FROM foo WHERE x = ?", []any{1}, 1},
		{"SELECT * FROM foo WHERE x in (?) AND y in (?)", []any{[]string{"a"}, &[]int{1, 2}}, 3},
	}
	for _, test := range tests {
		q, a, err := In(test.q, test.args...)
		require.NoError(t, err, test.q)
		assert.Len(t, a, test.c, test.q)
		assert.Equal(t, test.c, countMarkers(q), q)
	}

	_, _, err := In("SELECT * FROM foo WHERE x in (?)", []int{})
	assert.Error(t, err)
	_, _, err = In("SELECT * FROM foo WHERE x in (?) AND y = ?", []int{1})
	assert.Error(t, err)
	_, _, err = In("SELECT * FROM foo WHERE x in (?)", []int{1}, 2)
	assert.Error(t, err)
}

func countMarkers(q string) int {
	var n int
	for _, r := range q {
		if r == '?' {
			n++
		}
	}
	return n
}
