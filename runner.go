package sqlrun

import (
	"context"
	"database/sql"
	"os"
	"strings"

	u "github.com/araddon/gou"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/muir/sqltoken"
)

// DefaultParseCacheSize bounds the number of translated named clauses a
// Runner remembers.
const DefaultParseCacheSize = 512

// Runner executes statements against a ConnProvider. It owns the caches
// used for named-parameter translation and struct mapping and is safe
// for concurrent use; the builders it returns are not.
type Runner struct {
	provider  ConnProvider
	bindvar   Bindvar
	mapping   *Mapping
	strict    bool
	parseSize int
	parsed    *lru.Cache[string, ParseResult]
}

// Option configures a Runner.
type Option func(*Runner)

// WithStrict makes struct mapping fail on columns without a matching
// property.
func WithStrict() Option {
	return func(r *Runner) { r.strict = true }
}

// WithMapping shares m between runners instead of giving each its own.
func WithMapping(m *Mapping) Option {
	return func(r *Runner) { r.mapping = m }
}

// WithBindvar overrides the bindvar style derived from the driver name.
func WithBindvar(bv Bindvar) Option {
	return func(r *Runner) { r.bindvar = bv }
}

// WithParseCacheSize bounds the translated clause cache.
func WithParseCacheSize(n int) Option {
	return func(r *Runner) { r.parseSize = n }
}

// New returns a Runner over p.
func New(p ConnProvider, opts ...Option) *Runner {
	r := &Runner{
		provider:  p,
		bindvar:   BindvarFor(p.DriverName()),
		parseSize: DefaultParseCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.mapping == nil {
		r.mapping = NewMapping(DefaultTag, DefaultPlanCacheSize)
	}
	if r.parseSize <= 0 {
		r.parseSize = DefaultParseCacheSize
	}
	parsed, err := lru.New[string, ParseResult](r.parseSize)
	if err != nil {
		panic(err)
	}
	r.parsed = parsed
	return r
}

// with returns a copy of r running against p and sharing r's caches.
func (r *Runner) with(p ConnProvider) *Runner {
	cp := *r
	cp.provider = p
	return &cp
}

// Provider returns the connection provider.
func (r *Runner) Provider() ConnProvider { return r.provider }

// Mapping returns the struct mapping cache.
func (r *Runner) Mapping() *Mapping { return r.mapping }

// Bindvar returns the positional marker style statements are rebound to.
func (r *Runner) Bindvar() Bindvar { return r.bindvar }

// Parse translates a named clause, caching the result.
func (r *Runner) Parse(clause string) ParseResult {
	if pr, ok := r.parsed.Get(clause); ok {
		return pr
	}
	pr := ParseNamed(clause)
	r.parsed.Add(clause, pr)
	return pr
}

func (r *Runner) prepare(ctx context.Context, clause string, opts StmtOptions) (*Handle, Stmt, error) {
	h, err := acquire(ctx, r.provider)
	if err != nil {
		return nil, nil, err
	}
	u.Debugf("prepare: %s", clause)
	st, err := h.Conn().Prepare(ctx, clause, opts)
	if err != nil {
		return nil, nil, release(driverErr("prepare", err), h)
	}
	return h, st, nil
}

func (r *Runner) newBase(clause string, args []any) base {
	return base{r: r, clause: clause, args: args}
}

func (r *Runner) namedBase(clause string, arg any) base {
	pr := r.Parse(clause)
	args, err := bindNamed(pr.Names, arg, r.mapping)
	return base{r: r, clause: pr.Clause, args: args, err: err}
}

func (r *Runner) namedBatch(clause string, args any) batchBase {
	pr := r.Parse(clause)
	rows, err := bindNamedBatch(pr.Names, args, r.mapping)
	return batchBase{r: r, clause: pr.Clause, rows: rows, err: err}
}

// Query starts a query with positional `?` arguments.
func (r *Runner) Query(clause string, args ...any) *Query {
	return &Query{base: r.newBase(clause, args), strict: r.strict}
}

// QueryNamed starts a query with `:name` placeholders resolved from arg.
func (r *Runner) QueryNamed(clause string, arg any) *Query {
	return &Query{base: r.namedBase(clause, arg), strict: r.strict}
}

// Update starts a statement run for its affected-row count.
func (r *Runner) Update(clause string, args ...any) *Update {
	return &Update{base: r.newBase(clause, args)}
}

// UpdateNamed is Update with `:name` placeholders resolved from arg.
func (r *Runner) UpdateNamed(clause string, arg any) *Update {
	return &Update{base: r.namedBase(clause, arg)}
}

// Insert starts a statement run for its generated keys.
func (r *Runner) Insert(clause string, args ...any) *Insert {
	return &Insert{base: r.newBase(clause, args), strict: r.strict}
}

// InsertNamed is Insert with `:name` placeholders resolved from arg.
func (r *Runner) InsertNamed(clause string, arg any) *Insert {
	return &Insert{base: r.namedBase(clause, arg), strict: r.strict}
}

// BatchUpdate starts a batch over the given parameter rows; more can be
// queued with Add.
func (r *Runner) BatchUpdate(clause string, rows ...[]any) *BatchUpdate {
	return &BatchUpdate{batchBase: batchBase{r: r, clause: clause, rows: rows}}
}

// BatchUpdateNamed starts a batch with one parameter row per element of
// args, a slice of maps or structs.
func (r *Runner) BatchUpdateNamed(clause string, args any) *BatchUpdate {
	return &BatchUpdate{batchBase: r.namedBatch(clause, args)}
}

// BatchInsert starts a batch insert over the given parameter rows.
func (r *Runner) BatchInsert(clause string, rows ...[]any) *BatchInsert {
	return &BatchInsert{batchBase: batchBase{r: r, clause: clause, rows: rows}, strict: r.strict}
}

// BatchInsertNamed is BatchInsert with one parameter row per element of args.
func (r *Runner) BatchInsertNamed(clause string, args any) *BatchInsert {
	return &BatchInsert{batchBase: r.namedBatch(clause, args), strict: r.strict}
}

// Exec runs a single statement and returns the affected-row count.
func (r *Runner) Exec(ctx context.Context, clause string, args ...any) (int64, error) {
	return r.Update(clause, args...).Execute(ctx)
}

// LoadFile executes every `;` separated statement in the file at path.
func (r *Runner) LoadFile(ctx context.Context, path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return r.ExecScript(ctx, string(contents))
}

// ExecScript executes every `;` separated statement of script in order,
// stopping at the first failure.
func (r *Runner) ExecScript(ctx context.Context, script string) error {
	config := sqltoken.MySQLConfig()
	if r.bindvar == DOLLAR {
		config = sqltoken.PostgreSQLConfig()
	}
	for _, stmt := range splitStatements(script, config) {
		if _, err := r.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func splitStatements(script string, config sqltoken.Config) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, token := range sqltoken.Tokenize(script, config) {
		switch token.Type {
		case sqltoken.Semicolon:
			flush()
		case sqltoken.Comment:
		default:
			cur.WriteString(token.Text)
		}
	}
	flush()
	return out
}

// DB is a Runner over its own connection pool.
type DB struct {
	*Runner
	Pool *sql.DB
}

// Connect opens a pool for driverName and verifies it with a ping.
func Connect(driverName, dsn string, opts ...Option) (*DB, error) {
	return ConnectContext(context.Background(), driverName, dsn, opts...)
}

// ConnectContext is Connect with a context for the initial ping.
func ConnectContext(ctx context.Context, driverName, dsn string, opts ...Option) (*DB, error) {
	pool, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, driverErr("connect", err)
	}
	if err := pool.PingContext(ctx); err != nil {
		return nil, suppress(driverErr("connect", err), pool.Close())
	}
	return &DB{Runner: New(FromDB(pool, driverName), opts...), Pool: pool}, nil
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.Pool.Close()
}
