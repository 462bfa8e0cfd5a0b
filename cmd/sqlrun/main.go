package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	u "github.com/araddon/gou"
	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/vinovest/sqlrun"
)

type params map[string]any

func (p params) String() string { return fmt.Sprint(map[string]any(p)) }

func (p params) Set(kv string) error {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return fmt.Errorf("param %q is not name=value", kv)
	}
	p[k] = v
	return nil
}

var (
	configFile = flag.String("config", "sqlrun.conf", "sqlrun config file")
	logLevel   = flag.String("loglevel", "", "log level [debug|info|warn|error], overrides the config file")
	query      = flag.String("query", "", "named query to stream, e.g. select * from t where id = :id")
	execStmt   = flag.String("exec", "", "named statement to execute")
	args       = params{}
)

func main() {
	flag.Var(args, "param", "named parameter name=value, may be repeated")
	flag.Parse()

	conf, err := LoadConfigFromFile(*configFile)
	if err != nil {
		u.Errorf("Could not load config: %v", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		conf.LogLevel = *logLevel
	}
	u.SetupLogging(conf.LogLevel)
	u.SetColorIfTerminal()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf); err != nil {
		u.Errorf("%v", err)
		for _, s := range sqlrun.Suppressed(err) {
			u.Warnf("suppressed: %v", s)
		}
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, conf *Config) error {
	if conf.Driver == "sqlite3" {
		version, _, _ := sqlite3.Version()
		u.Debugf("sqlite %s", version)
	}
	var opts []sqlrun.Option
	if conf.Strict {
		opts = append(opts, sqlrun.WithStrict())
	}
	db, err := sqlrun.ConnectContext(ctx, conf.Driver, conf.DSN, opts...)
	if err != nil {
		return err
	}
	defer db.Close()

	if conf.Schema != "" {
		u.Infof("loading schema %s", conf.Schema)
		if err := db.LoadFile(ctx, conf.Schema); err != nil {
			return err
		}
	}

	switch {
	case *execStmt != "":
		n, err := db.UpdateNamed(*execStmt, map[string]any(args)).Execute(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d row(s) affected\n", n)
	case *query != "":
		cur, err := db.QueryNamed(*query, map[string]any(args)).FetchSize(conf.FetchSize).Cursor(ctx)
		if err != nil {
			return err
		}
		var n int
		for rec, err := range cur.All() {
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Println(strings.Join(rec.Names(), "\t"))
			}
			vals := make([]string, rec.Len())
			for i, v := range rec.Values() {
				vals[i] = format(v)
			}
			fmt.Println(strings.Join(vals, "\t"))
			n++
		}
		u.Infof("%d row(s)", n)
	default:
		return fmt.Errorf("one of -query or -exec is required")
	}
	return nil
}

func format(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	}
	return fmt.Sprint(v)
}
