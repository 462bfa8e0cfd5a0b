package sqlrun

import (
	"iter"

	u "github.com/araddon/gou"
)

// Cursor pulls rows from a ResultSet one at a time, mapping each on
// demand. HasNext looks at most one row ahead. The cursor closes itself
// when the rows run out or a row cannot be read or mapped; otherwise the
// caller must Close it.
type Cursor[T any] struct {
	rs     *ResultSet
	mapper RowMapper[T]
	cols   []string

	inspected bool
	hasNext   bool
	exhausted bool
}

// Columns returns the result column names.
func (c *Cursor[T]) Columns() []string { return c.cols }

// HasNext reports whether another row is available. It advances the
// underlying cursor only when the previous row has been consumed. Once the
// rows have run out it keeps reporting false; a cursor closed before that
// reports ErrClosed.
func (c *Cursor[T]) HasNext() (bool, error) {
	if c.rs.closed {
		if c.exhausted {
			return false, nil
		}
		return false, ErrClosed
	}
	if c.inspected {
		return c.hasNext, nil
	}
	c.inspected = true
	c.hasNext = c.rs.rows.Next()
	if !c.hasNext {
		err := driverErr("next", c.rs.rows.Err())
		c.exhausted = err == nil
		return false, c.rs.closeWith(err)
	}
	return true, nil
}

// Next maps and returns the next row, or ErrNoMoreRows once the rows have
// run out.
func (c *Cursor[T]) Next() (T, error) {
	var zero T
	ok, err := c.HasNext()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrNoMoreRows
	}
	c.inspected = false
	v, err := c.mapper.MapRow(c.cols, c.rs.rows)
	if err != nil {
		return zero, c.rs.closeWith(err)
	}
	return v, nil
}

// Close releases the cursor, statement and connection. It is idempotent.
func (c *Cursor[T]) Close() error {
	return c.rs.Close()
}

// All iterates the remaining rows. The cursor is closed when iteration
// ends, including when the loop body breaks early.
func (c *Cursor[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			ok, err := c.HasNext()
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok {
				return
			}
			v, err := c.Next()
			if !yield(v, err) || err != nil {
				if cerr := c.Close(); cerr != nil {
					u.Warnf("closing abandoned cursor: %v", cerr)
				}
				return
			}
		}
	}
}
