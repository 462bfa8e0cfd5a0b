package sqlrun

import (
	"context"

	u "github.com/araddon/gou"
)

// Handle owns a connection for one unit of work. It is the only place a
// connection is closed, and only when the provider is pooled.
type Handle struct {
	conn   Conn
	owns   bool
	closed bool
}

func acquire(ctx context.Context, p ConnProvider) (*Handle, error) {
	c, err := p.Conn(ctx)
	if err != nil {
		return nil, driverErr("connect", err)
	}
	return &Handle{conn: c, owns: p.Pooled()}, nil
}

// Conn returns the underlying connection.
func (h *Handle) Conn() Conn { return h.conn }

// Owns reports whether Close releases the connection.
func (h *Handle) Owns() bool { return h.owns }

// Close releases the connection if the handle owns it. It is safe to call
// on a nil handle and more than once.
func (h *Handle) Close() error {
	if h == nil || h.closed {
		return nil
	}
	h.closed = true
	if !h.owns || h.conn == nil {
		return nil
	}
	return driverErr("close connection", h.conn.Close())
}

type closer interface {
	Close() error
}

// release closes every closer in order, even when an earlier one fails,
// and reports close failures as suppressed errors of err.
func release(err error, closers ...closer) error {
	var failures []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if cerr := c.Close(); cerr != nil {
			failures = append(failures, driverErr("close", cerr))
		}
	}
	if len(failures) > 0 && err != nil {
		u.Warnf("suppressed %d cleanup error(s) after %v", len(failures), err)
	}
	return suppress(err, failures...)
}
