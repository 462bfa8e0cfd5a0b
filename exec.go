package sqlrun

import (
	"context"
)

// Builders accumulate a statement's shape and do no I/O until Execute.
// Each builder executes once and is not safe for concurrent use.

type base struct {
	r        *Runner
	clause   string
	args     []any
	err      error
	executed bool
	expandIn bool
}

// begin marks the builder as used and returns any error recorded while
// building, such as a missing named parameter.
func (b *base) begin() error {
	if b.executed {
		return ErrExecuted
	}
	b.executed = true
	return b.err
}

func (b *base) statement() (string, []any, error) {
	clause, args := b.clause, b.args
	if b.expandIn {
		var err error
		if clause, args, err = In(clause, args...); err != nil {
			return "", nil, err
		}
	}
	return Rebind(b.r.bindvar, clause), args, nil
}

// Query is a SELECT-like statement whose rows are returned as a ResultSet.
type Query struct {
	base
	fetchSize int
	strict    bool
}

// FetchSize asks the driver to fetch n rows per round trip and requests a
// forward-only, read-only cursor.
func (q *Query) FetchSize(n int) *Query {
	q.fetchSize = n
	return q
}

// Strict fails struct mapping on columns without a matching property.
func (q *Query) Strict() *Query {
	q.strict = true
	return q
}

// ExpandIn spreads slice arguments over their `IN (?)` lists.
func (q *Query) ExpandIn() *Query {
	q.expandIn = true
	return q
}

// Execute runs the query. The returned ResultSet owns the cursor, the
// statement and the connection.
func (q *Query) Execute(ctx context.Context) (*ResultSet, error) {
	if err := q.begin(); err != nil {
		return nil, err
	}
	clause, args, err := q.statement()
	if err != nil {
		return nil, err
	}
	opts := StmtOptions{FetchSize: q.fetchSize, ForwardOnly: q.fetchSize > 0}
	h, st, err := q.r.prepare(ctx, clause, opts)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(ctx, args)
	if err != nil {
		return nil, release(driverErr("query", err), st, h)
	}
	return newResultSet(rows, st, h, q.r.mapping, q.strict), nil
}

// One returns the single row of the query as a Record.
func (q *Query) One(ctx context.Context) (*Record, bool, error) {
	return One[*Record](ctx, q)
}

// List returns every row of the query as a Record.
func (q *Query) List(ctx context.Context) ([]*Record, error) {
	return List[*Record](ctx, q)
}

// Cursor streams the rows of the query as Records.
func (q *Query) Cursor(ctx context.Context) (*Cursor[*Record], error) {
	return Stream[*Record](ctx, q)
}

// Update is a statement run for its affected-row count.
type Update struct {
	base
}

// ExpandIn spreads slice arguments over their `IN (?)` lists.
func (up *Update) ExpandIn() *Update {
	up.expandIn = true
	return up
}

// Execute runs the statement and returns the number of affected rows.
// The statement and connection are released before it returns.
func (up *Update) Execute(ctx context.Context) (int64, error) {
	if err := up.begin(); err != nil {
		return 0, err
	}
	clause, args, err := up.statement()
	if err != nil {
		return 0, err
	}
	h, st, err := up.r.prepare(ctx, clause, StmtOptions{})
	if err != nil {
		return 0, err
	}
	n, err := st.Exec(ctx, args)
	if err = release(driverErr("exec", err), st, h); err != nil {
		return 0, err
	}
	return n, nil
}

// Insert is a statement run for the keys it generates.
type Insert struct {
	base
	keyColumns []string
	strict     bool
}

// KeyColumns names the generated-key columns to return. Without it the
// driver's default generated key is returned.
func (in *Insert) KeyColumns(cols ...string) *Insert {
	in.keyColumns = cols
	return in
}

// ExpandIn spreads slice arguments over their `IN (?)` lists.
func (in *Insert) ExpandIn() *Insert {
	in.expandIn = true
	return in
}

// Execute runs the insert and returns a ResultSet over the generated keys.
func (in *Insert) Execute(ctx context.Context) (*ResultSet, error) {
	if err := in.begin(); err != nil {
		return nil, err
	}
	clause, args, err := in.statement()
	if err != nil {
		return nil, err
	}
	h, st, err := in.r.prepare(ctx, clause, StmtOptions{GeneratedKeys: true, KeyColumns: in.keyColumns})
	if err != nil {
		return nil, err
	}
	if _, err := st.Exec(ctx, args); err != nil {
		return nil, release(driverErr("exec", err), st, h)
	}
	keys, err := st.GeneratedKeys()
	if err != nil {
		return nil, release(driverErr("generated keys", err), st, h)
	}
	return newResultSet(keys, st, h, in.r.mapping, in.strict), nil
}

type batchBase struct {
	r        *Runner
	clause   string
	rows     [][]any
	err      error
	executed bool
}

func (b *batchBase) begin() error {
	if b.executed {
		return ErrExecuted
	}
	b.executed = true
	return b.err
}

func (b *batchBase) add(args []any) {
	b.rows = append(b.rows, args)
}

// BatchUpdate runs one statement once per parameter row.
type BatchUpdate struct {
	batchBase
}

// Add queues one more parameter row.
func (bu *BatchUpdate) Add(args ...any) *BatchUpdate {
	bu.add(args)
	return bu
}

// Execute runs the batch and returns one affected-row count per
// parameter row, in input order.
func (bu *BatchUpdate) Execute(ctx context.Context) ([]int64, error) {
	if err := bu.begin(); err != nil {
		return nil, err
	}
	h, st, err := bu.r.prepare(ctx, Rebind(bu.r.bindvar, bu.clause), StmtOptions{})
	if err != nil {
		return nil, err
	}
	counts, err := st.ExecBatch(ctx, bu.rows)
	if err = release(driverErr("exec batch", err), st, h); err != nil {
		return nil, err
	}
	return counts, nil
}

// BatchInsert runs one insert once per parameter row and returns the
// combined generated keys.
type BatchInsert struct {
	batchBase
	keyColumns []string
	strict     bool
}

// Add queues one more parameter row.
func (bi *BatchInsert) Add(args ...any) *BatchInsert {
	bi.add(args)
	return bi
}

// KeyColumns names the generated-key columns to return.
func (bi *BatchInsert) KeyColumns(cols ...string) *BatchInsert {
	bi.keyColumns = cols
	return bi
}

// Execute runs the batch and returns a ResultSet over every generated key.
func (bi *BatchInsert) Execute(ctx context.Context) (*ResultSet, error) {
	if err := bi.begin(); err != nil {
		return nil, err
	}
	opts := StmtOptions{GeneratedKeys: true, KeyColumns: bi.keyColumns}
	h, st, err := bi.r.prepare(ctx, Rebind(bi.r.bindvar, bi.clause), opts)
	if err != nil {
		return nil, err
	}
	if _, err := st.ExecBatch(ctx, bi.rows); err != nil {
		return nil, release(driverErr("exec batch", err), st, h)
	}
	keys, err := st.GeneratedKeys()
	if err != nil {
		return nil, release(driverErr("generated keys", err), st, h)
	}
	return newResultSet(keys, st, h, bi.r.mapping, bi.strict), nil
}

// Resulter is any builder that produces a ResultSet.
type Resulter interface {
	Execute(ctx context.Context) (*ResultSet, error)
}

var (
	_ Resulter = (*Query)(nil)
	_ Resulter = (*Insert)(nil)
	_ Resulter = (*BatchInsert)(nil)
)

// One executes r and maps at most one row to T with the default mapper
// for T. found is false when there were no rows.
func One[T any](ctx context.Context, r Resulter) (out T, found bool, err error) {
	rs, err := r.Execute(ctx)
	if err != nil {
		return out, false, err
	}
	return OneOf(rs, mapperFor[T](rs.mapping, rs.strict))
}

// OneWith is One with a caller supplied mapper.
func OneWith[T any](ctx context.Context, r Resulter, mapper RowMapper[T]) (out T, found bool, err error) {
	rs, err := r.Execute(ctx)
	if err != nil {
		return out, false, err
	}
	return OneOf(rs, mapper)
}

// List executes r and maps every row to T with the default mapper for T.
func List[T any](ctx context.Context, r Resulter) ([]T, error) {
	rs, err := r.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return ListOf(rs, mapperFor[T](rs.mapping, rs.strict))
}

// ListWith is List with a caller supplied mapper.
func ListWith[T any](ctx context.Context, r Resulter, mapper RowMapper[T]) ([]T, error) {
	rs, err := r.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return ListOf(rs, mapper)
}

// Stream executes r and returns a Cursor mapping rows to T on demand.
func Stream[T any](ctx context.Context, r Resulter) (*Cursor[T], error) {
	rs, err := r.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return CursorOf(rs, mapperFor[T](rs.mapping, rs.strict))
}

// StreamWith is Stream with a caller supplied mapper.
func StreamWith[T any](ctx context.Context, r Resulter, mapper RowMapper[T]) (*Cursor[T], error) {
	rs, err := r.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return CursorOf(rs, mapper)
}
