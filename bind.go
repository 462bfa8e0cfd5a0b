package sqlrun

import (
	"database/sql/driver"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/muir/sqltoken"

	"github.com/vinovest/sqlrun/reflectx"
)

// Bindvar is the positional marker style a driver expects.
type Bindvar uint8

// Bindvar styles understood by Rebind.
const (
	UNKNOWN  Bindvar = iota
	QUESTION         // ?
	DOLLAR           // $1
	NAMED            // :arg1
	AT               // @p1
)

var defaultBindvars = map[Bindvar][]string{
	DOLLAR:   {"postgres", "pgx", "pq-timeouts", "cloudsqlpostgres", "ql", "nrpostgres", "cockroach"},
	QUESTION: {"mysql", "sqlite3", "nrmysql", "nrsqlite3"},
	NAMED:    {"oci8", "ora", "goracle", "godror"},
	AT:       {"sqlserver", "azuresql"},
}

var bindvars sync.Map

// tokenizer configs per target style; `?` must always be noticed.
var rebindConfigs = func() map[Bindvar]sqltoken.Config {
	pg := sqltoken.PostgreSQLConfig()
	pg.NoticeQuestionMark = true
	pg.NoticeDollarNumber = false
	pg.SeparatePunctuation = true

	ora := sqltoken.OracleConfig()
	ora.NoticeColonWord = false
	ora.NoticeQuestionMark = true
	ora.SeparatePunctuation = true

	ssvr := sqltoken.SQLServerConfig()
	ssvr.NoticeAtWord = false
	ssvr.NoticeQuestionMark = true
	ssvr.SeparatePunctuation = true

	return map[Bindvar]sqltoken.Config{DOLLAR: pg, NAMED: ora, AT: ssvr}
}()

func init() {
	for bv, drivers := range defaultBindvars {
		for _, d := range drivers {
			RegisterBindvar(d, bv)
		}
	}
}

// BindvarFor returns the bindvar style registered for driverName.
func BindvarFor(driverName string) Bindvar {
	bv, ok := bindvars.Load(driverName)
	if !ok {
		return UNKNOWN
	}
	return bv.(Bindvar)
}

// RegisterBindvar sets the bindvar style for driverName.
func RegisterBindvar(driverName string, bv Bindvar) {
	bindvars.Store(driverName, bv)
}

// Rebind rewrites the `?` markers of clause into the style bv. Markers
// inside quotes and comments are left alone.
func Rebind(bv Bindvar, clause string) string {
	config, ok := rebindConfigs[bv]
	if !ok {
		return clause
	}
	var (
		b strings.Builder
		n int64
	)
	b.Grow(len(clause) + 10)
	for _, token := range sqltoken.Tokenize(clause, config) {
		if token.Type != sqltoken.QuestionMark {
			b.WriteString(token.Text)
			continue
		}
		switch bv {
		case DOLLAR:
			b.WriteByte('$')
		case NAMED:
			b.WriteString(":arg")
		case AT:
			b.WriteString("@p")
		}
		n++
		b.WriteString(strconv.FormatInt(n, 10))
	}
	return b.String()
}

var (
	errEmptyIn      = errors.New("sqlrun: empty slice passed to 'in' query")
	errTooFewArgs   = errors.New("sqlrun: number of bindvars exceeds arguments")
	errTooManyArgs  = errors.New("sqlrun: number of bindvars less than number of arguments")
	bytesForInCheck = reflect.TypeOf([]byte(nil))
)

// expandable returns the slice value of arg if it should be spread over
// an `IN (?)` list. []byte is a driver value and is never spread.
func expandable(arg any) (reflect.Value, bool) {
	if arg == nil {
		return reflect.Value{}, false
	}
	v := reflect.ValueOf(arg)
	t := reflectx.Deref(v.Type())
	if t.Kind() != reflect.Slice || t == bytesForInCheck {
		return reflect.Value{}, false
	}
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, true
}

// In expands slice arguments bound to `IN (?)` into one marker per element.
// Clause and result both use `?` markers.
func In(clause string, args ...any) (string, []any, error) {
	type argMeta struct {
		v      reflect.Value
		i      any
		length int
	}
	meta := make([]argMeta, len(args))
	var flat int
	var anySlices bool
	for i, arg := range args {
		if a, ok := arg.(driver.Valuer); ok {
			var err error
			if arg, err = callValuerValue(a); err != nil {
				return "", nil, err
			}
		}
		if v, ok := expandable(arg); ok {
			meta[i] = argMeta{v: v, length: v.Len()}
			if meta[i].length == 0 {
				return "", nil, errEmptyIn
			}
			anySlices = true
			flat += meta[i].length
			continue
		}
		meta[i].i = arg
		flat++
	}
	if !anySlices {
		return clause, args, nil
	}

	newArgs := make([]any, 0, flat)
	var b strings.Builder
	b.Grow(len(clause) + len(", ?")*flat)

	tokens := sqltoken.Tokenize(clause, rebindConfigs[DOLLAR])
	var next int
	inList := false
	for pos, token := range tokens {
		switch {
		case !inList && token.Type == sqltoken.Punctuation && token.Text == "(":
			inList = precededByIn(tokens[:pos])
			b.WriteString(token.Text)
		case token.Type == sqltoken.QuestionMark:
			if next >= len(meta) {
				return "", nil, errTooFewArgs
			}
			m := meta[next]
			next++
			if !inList || m.length == 0 {
				if m.length > 0 {
					// a slice outside of IN () stays a single value
					newArgs = append(newArgs, m.v.Interface())
				} else {
					newArgs = append(newArgs, m.i)
				}
				b.WriteString(token.Text)
				continue
			}
			b.WriteString("?")
			for j := 1; j < m.length; j++ {
				b.WriteString(", ?")
			}
			for j := 0; j < m.length; j++ {
				newArgs = append(newArgs, m.v.Index(j).Interface())
			}
		case inList && token.Type == sqltoken.Punctuation && token.Text == ")":
			inList = false
			b.WriteString(token.Text)
		default:
			b.WriteString(token.Text)
		}
	}
	if next < len(meta) {
		return "", nil, errTooManyArgs
	}
	return b.String(), newArgs, nil
}

func precededByIn(tokens []sqltoken.Token) bool {
	for i := len(tokens) - 1; i >= 0; i-- {
		if tokens[i].Type == sqltoken.Word {
			return strings.EqualFold(tokens[i].Text, "in")
		}
	}
	return false
}

// callValuerValue returns vr.Value(), treating a nil pointer whose element
// type implements driver.Valuer as NULL instead of panicking.
func callValuerValue(vr driver.Valuer) (driver.Value, error) {
	if rv := reflect.ValueOf(vr); rv.Kind() == reflect.Pointer &&
		rv.IsNil() &&
		rv.Type().Elem().Implements(reflect.TypeOf((*driver.Valuer)(nil)).Elem()) {
		return nil, nil
	}
	return vr.Value()
}
