package sqlrun

import (
	"strconv"
)

// ResultSet owns an open cursor together with the statement and
// connection it depends on. Closing it releases all three, in that order.
// A ResultSet must not be used from more than one goroutine at a time.
type ResultSet struct {
	rows    Rows
	stmt    Stmt
	handle  *Handle
	mapping *Mapping
	strict  bool

	cols   []string
	closed bool
}

func newResultSet(rows Rows, stmt Stmt, h *Handle, m *Mapping, strict bool) *ResultSet {
	if m == nil {
		m = defaultMapping()
	}
	return &ResultSet{rows: rows, stmt: stmt, handle: h, mapping: m, strict: strict}
}

// Columns returns the result column names. A column the driver reports
// without a name is called "columnN", N counting from 1.
func (rs *ResultSet) Columns() ([]string, error) {
	if rs.cols != nil {
		return rs.cols, nil
	}
	if rs.closed {
		return nil, ErrClosed
	}
	reported, err := rs.rows.Columns()
	if err != nil {
		return nil, driverErr("columns", err)
	}
	cols := append([]string(nil), reported...)
	for i, c := range cols {
		if c == "" {
			cols[i] = "column" + strconv.Itoa(i+1)
		}
	}
	rs.cols = cols
	return cols, nil
}

// Closed reports whether the result set has been released.
func (rs *ResultSet) Closed() bool { return rs.closed }

// Close releases the cursor, the statement and the connection. Failures
// are aggregated; the first one is returned with the rest suppressed.
// Close is idempotent.
func (rs *ResultSet) Close() error {
	return rs.closeWith(nil)
}

// closeWith releases the result set and attaches any close failures to
// err.
func (rs *ResultSet) closeWith(err error) error {
	if rs.closed {
		return err
	}
	rs.closed = true
	return release(err, rs.rows, rs.stmt, rs.handle)
}

// OneOf maps at most one row and closes rs. found is false when there
// were no rows; a second row fails with ErrTooManyResults.
func OneOf[T any](rs *ResultSet, mapper RowMapper[T]) (out T, found bool, err error) {
	var zero T
	defer func() {
		err = rs.closeWith(err)
		if err != nil {
			out, found = zero, false
		}
	}()
	if rs.closed {
		return zero, false, ErrClosed
	}
	cols, err := rs.Columns()
	if err != nil {
		return zero, false, err
	}
	if !rs.rows.Next() {
		return zero, false, driverErr("next", rs.rows.Err())
	}
	out, err = mapper.MapRow(cols, rs.rows)
	if err != nil {
		return zero, false, err
	}
	if rs.rows.Next() {
		return zero, false, ErrTooManyResults
	}
	if err := rs.rows.Err(); err != nil {
		return zero, false, driverErr("next", err)
	}
	return out, true, nil
}

// ListOf maps every row and closes rs.
func ListOf[T any](rs *ResultSet, mapper RowMapper[T]) (out []T, err error) {
	defer func() {
		err = rs.closeWith(err)
		if err != nil {
			out = nil
		}
	}()
	if rs.closed {
		return nil, ErrClosed
	}
	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}
	out = []T{}
	for rs.rows.Next() {
		v, err := mapper.MapRow(cols, rs.rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rs.rows.Err(); err != nil {
		return nil, driverErr("next", err)
	}
	return out, nil
}

// CursorOf wraps rs in a lazily mapped Cursor that now owns it.
func CursorOf[T any](rs *ResultSet, mapper RowMapper[T]) (*Cursor[T], error) {
	if rs.closed {
		return nil, ErrClosed
	}
	cols, err := rs.Columns()
	if err != nil {
		return nil, rs.closeWith(err)
	}
	return &Cursor[T]{rs: rs, mapper: mapper, cols: cols}, nil
}
