package sqlrun

import (
	"context"
	"database/sql"
	"strings"

	u "github.com/araddon/gou"
)

// Rows is a forward-only result cursor. *sql.Rows satisfies it.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

var _ Rows = (*sql.Rows)(nil)

// RowScanner scans the current row of a cursor.
type RowScanner interface {
	Scan(dest ...any) error
}

// StmtOptions carries the statement shape a Conn needs at prepare time.
type StmtOptions struct {
	// FetchSize is a hint for the number of rows to fetch per round trip.
	// 0 means driver default.
	FetchSize int
	// ForwardOnly requests a forward-only, read-only cursor.
	ForwardOnly bool
	// GeneratedKeys requests that generated keys be kept for GeneratedKeys.
	GeneratedKeys bool
	// KeyColumns names the generated-key columns; empty uses the driver default.
	KeyColumns []string
}

// Stmt is a prepared statement.
type Stmt interface {
	Query(ctx context.Context, args []any) (Rows, error)
	Exec(ctx context.Context, args []any) (int64, error)
	ExecBatch(ctx context.Context, args [][]any) ([]int64, error)
	// GeneratedKeys returns the keys produced by the executions so far.
	GeneratedKeys() (Rows, error)
	Close() error
}

// Conn is a single database connection.
type Conn interface {
	Prepare(ctx context.Context, clause string, opts StmtOptions) (Stmt, error)
	Close() error
}

// ConnProvider hands out connections. A pooled provider expects every
// connection it hands out to be closed, a caller-owned one does not.
type ConnProvider interface {
	Conn(ctx context.Context) (Conn, error)
	Pooled() bool
	DriverName() string
}

// Beginner is implemented by providers that can start a transaction.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// DefaultKeyColumn names the generated-key column when no key columns
// were requested.
const DefaultKeyColumn = "GENERATED_KEY"

type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// DBProvider is a pooled ConnProvider over a *sql.DB.
type DBProvider struct {
	DB     *sql.DB
	driver string
}

// FromDB returns a pooled provider that checks out one *sql.Conn per unit of work.
func FromDB(db *sql.DB, driverName string) *DBProvider {
	return &DBProvider{DB: db, driver: driverName}
}

func (p *DBProvider) Conn(ctx context.Context) (Conn, error) {
	c, err := p.DB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{p: c, close: c.Close, driver: p.driver}, nil
}

func (p *DBProvider) Pooled() bool       { return true }
func (p *DBProvider) DriverName() string { return p.driver }

func (p *DBProvider) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return p.DB.BeginTx(ctx, opts)
}

type ownedByCaller struct {
	p      preparer
	driver string
}

func (o *ownedByCaller) Conn(context.Context) (Conn, error) {
	return &sqlConn{p: o.p, driver: o.driver}, nil
}

func (o *ownedByCaller) Pooled() bool       { return false }
func (o *ownedByCaller) DriverName() string { return o.driver }

// FromTx returns a caller-owned provider; statements run inside tx and
// the engine never closes it.
func FromTx(tx *sql.Tx, driverName string) ConnProvider {
	return &ownedByCaller{p: tx, driver: driverName}
}

// FromConn returns a caller-owned provider over a single connection.
func FromConn(c *sql.Conn, driverName string) ConnProvider {
	return &ownedByCaller{p: c, driver: driverName}
}

type sqlConn struct {
	p      preparer
	close  func() error
	driver string
}

// Prepare prepares clause. database/sql exposes no fetch size or cursor
// type, so those options are only logged.
func (c *sqlConn) Prepare(ctx context.Context, clause string, opts StmtOptions) (Stmt, error) {
	returning := opts.GeneratedKeys && len(opts.KeyColumns) > 0 && BindvarFor(c.driver) == DOLLAR
	if returning {
		clause = strings.TrimRight(clause, " \t\n;") + " RETURNING " + strings.Join(opts.KeyColumns, ", ")
	}
	if opts.FetchSize > 0 {
		u.Debugf("prepare fetch_size=%d forward_only=%v: %s", opts.FetchSize, opts.ForwardOnly, clause)
	}
	st, err := c.p.PrepareContext(ctx, clause)
	if err != nil {
		return nil, err
	}
	s := &sqlStmt{st: st, returning: returning, collect: opts.GeneratedKeys}
	if opts.GeneratedKeys {
		s.keys.cols = []string{DefaultKeyColumn}
		if len(opts.KeyColumns) > 0 {
			s.keys.cols = append([]string(nil), opts.KeyColumns...)
		}
	}
	return s, nil
}

func (c *sqlConn) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

type sqlStmt struct {
	st        *sql.Stmt
	returning bool
	collect   bool
	keys      keyRows
}

func (s *sqlStmt) Query(ctx context.Context, args []any) (Rows, error) {
	rows, err := s.st.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *sqlStmt) Exec(ctx context.Context, args []any) (int64, error) {
	if s.returning {
		return s.execReturning(ctx, args)
	}
	res, err := s.st.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if s.collect {
		id, err := res.LastInsertId()
		if err != nil {
			u.Debugf("no generated key available: %v", err)
		} else {
			s.keys.rows = append(s.keys.rows, []any{id})
		}
	}
	return n, nil
}

func (s *sqlStmt) execReturning(ctx context.Context, args []any) (n int64, err error) {
	rows, err := s.st.QueryContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = suppress(err, rows.Close())
	}()
	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	s.keys.cols = cols
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}
		s.keys.rows = append(s.keys.rows, vals)
		n++
	}
	return n, rows.Err()
}

func (s *sqlStmt) ExecBatch(ctx context.Context, args [][]any) ([]int64, error) {
	counts := make([]int64, 0, len(args))
	for _, a := range args {
		n, err := s.Exec(ctx, a)
		if err != nil {
			return counts, err
		}
		counts = append(counts, n)
	}
	return counts, nil
}

func (s *sqlStmt) GeneratedKeys() (Rows, error) {
	return &keyRows{cols: s.keys.cols, rows: s.keys.rows, pos: -1}, nil
}

func (s *sqlStmt) Close() error { return s.st.Close() }

// keyRows is an in-memory cursor over buffered generated keys.
type keyRows struct {
	cols   []string
	rows   [][]any
	pos    int
	closed bool
}

func (k *keyRows) Columns() ([]string, error) {
	if k.closed {
		return nil, ErrClosed
	}
	return k.cols, nil
}

func (k *keyRows) Next() bool {
	if k.closed || k.pos+1 >= len(k.rows) {
		return false
	}
	k.pos++
	return true
}

func (k *keyRows) Scan(dest ...any) error {
	if k.closed {
		return ErrClosed
	}
	if k.pos < 0 || k.pos >= len(k.rows) {
		return ErrNoMoreRows
	}
	row := k.rows[k.pos]
	if len(dest) != len(row) {
		return &DriverError{Op: "scan", Err: errScanCount(len(row), len(dest))}
	}
	for i, d := range dest {
		if err := assign(k.cols[i], d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

func (k *keyRows) Err() error { return nil }

func (k *keyRows) Close() error {
	k.closed = true
	return nil
}
