package main

import (
	"os"

	"github.com/go-sql-driver/mysql"
	"github.com/lytics/confl"
)

// Config is the sqlrun command configuration file.
type Config struct {
	Driver    string `confl:"driver"`     // [sqlite3,postgres,mysql]
	DSN       string `confl:"dsn"`        // driver data source name
	LogLevel  string `confl:"log_level"`  // [debug,info,warn,error]
	FetchSize int    `confl:"fetch_size"` // rows per round trip for queries, 0 = driver default
	Strict    bool   `confl:"strict"`     // fail on result columns with no destination
	Schema    string `confl:"schema"`     // optional sql file run before the statement
}

func LoadConfigFromFile(filename string) (*Config, error) {
	confBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return LoadConfig(string(confBytes))
}

func LoadConfig(conf string) (*Config, error) {
	c := Config{Driver: "sqlite3", LogLevel: "info"}
	if _, err := confl.Decode(conf, &c); err != nil {
		return nil, err
	}
	if c.Driver == "mysql" {
		dsn, err := mysqlDSN(c.DSN)
		if err != nil {
			return nil, err
		}
		c.DSN = dsn
	}
	return &c, nil
}

// mysqlDSN turns on parseTime so DATETIME columns arrive as time.Time.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
