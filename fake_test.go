package sqlrun

import (
	"context"
	"errors"
)

var errBoom = errors.New("boom")

type fakeRows struct {
	cols     []string
	data     [][]any
	pos      int
	failAt   int // Next fails when about to read this row index; -1 never
	err      error
	closed   int
	closeErr error
}

func newFakeRows(cols []string, data ...[]any) *fakeRows {
	return &fakeRows{cols: cols, data: data, pos: -1, failAt: -1}
}

// Columns hands out the internal slice, as drivers may.
func (r *fakeRows) Columns() ([]string, error) { return r.cols, nil }

func (r *fakeRows) Next() bool {
	if r.failAt >= 0 && r.pos+1 == r.failAt {
		r.err = errBoom
		return false
	}
	if r.pos+1 >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos]
	for i, d := range dest {
		if err := assign(r.cols[i], d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func (r *fakeRows) Close() error {
	r.closed++
	return r.closeErr
}

type fakeStmt struct {
	clause    string
	opts      StmtOptions
	rows      *fakeRows
	keys      *fakeRows
	queryErr  error
	execErr   error
	execErrAt int // 1-based execution that fails with execErr; 0 fails every one
	execs     [][]any
	closed    int
	closeErr  error
}

func (s *fakeStmt) Query(_ context.Context, args []any) (Rows, error) {
	s.execs = append(s.execs, args)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.rows, nil
}

func (s *fakeStmt) Exec(_ context.Context, args []any) (int64, error) {
	if s.execErr != nil && (s.execErrAt == 0 || len(s.execs)+1 == s.execErrAt) {
		return 0, s.execErr
	}
	s.execs = append(s.execs, args)
	if s.keys != nil {
		s.keys.data = append(s.keys.data, []any{int64(len(s.execs))})
	}
	// affected rows: number of arguments, so batch counts are distinguishable
	return int64(len(args)), nil
}

func (s *fakeStmt) ExecBatch(ctx context.Context, args [][]any) ([]int64, error) {
	var counts []int64
	for _, a := range args {
		n, err := s.Exec(ctx, a)
		if err != nil {
			return nil, err
		}
		counts = append(counts, n)
	}
	return counts, nil
}

func (s *fakeStmt) GeneratedKeys() (Rows, error) {
	if s.keys == nil {
		return newFakeRows([]string{DefaultKeyColumn}), nil
	}
	return s.keys, nil
}

func (s *fakeStmt) Close() error {
	s.closed++
	return s.closeErr
}

type fakeConn struct {
	stmt       *fakeStmt
	prepareErr error
	closed     int
	closeErr   error
}

func (c *fakeConn) Prepare(_ context.Context, clause string, opts StmtOptions) (Stmt, error) {
	if c.prepareErr != nil {
		return nil, c.prepareErr
	}
	c.stmt.clause = clause
	c.stmt.opts = opts
	return c.stmt, nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return c.closeErr
}

type fakeProvider struct {
	conn   *fakeConn
	err    error
	pooled bool
	driver string
	calls  int
}

func (p *fakeProvider) Conn(context.Context) (Conn, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

func (p *fakeProvider) Pooled() bool       { return p.pooled }
func (p *fakeProvider) DriverName() string { return p.driver }

type fakes struct {
	provider *fakeProvider
	conn     *fakeConn
	stmt     *fakeStmt
	rows     *fakeRows
}

// newFakes wires a pooled provider whose statement returns the given rows.
func newFakes(cols []string, data ...[]any) fakes {
	rows := newFakeRows(cols, data...)
	stmt := &fakeStmt{rows: rows}
	conn := &fakeConn{stmt: stmt}
	return fakes{
		provider: &fakeProvider{conn: conn, pooled: true, driver: "sqlite3"},
		conn:     conn,
		stmt:     stmt,
		rows:     rows,
	}
}

func (f fakes) runner(opts ...Option) *Runner {
	return New(f.provider, opts...)
}

// closes returns how often rows, statement and connection were closed.
func (f fakes) closes() [3]int {
	return [3]int{f.rows.closed, f.stmt.closed, f.conn.closed}
}
