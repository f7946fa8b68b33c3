package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	Postgres  Dialect = "postgres"
	MySQL     Dialect = "mysql"
	SQLite    Dialect = "sqlite"
	SQLServer Dialect = "sqlserver"
	DuckDB    Dialect = "duckdb"
)

var driverNames = map[Dialect]string{
	Postgres:  "pgx",
	MySQL:     "mysql",
	SQLite:    "sqlite",
	SQLServer: "sqlserver",
	DuckDB:    "duckdb",
}

type Config struct {
	Name            string
	URL             string
	Driver          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Open connects to the database named by cfg.URL and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*SQLSource, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("data source name is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("data source %q: url is required", cfg.Name)
	}
	dialect, dsn, err := ParseURL(cfg.URL, cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("data source %q: %w", cfg.Name, err)
	}

	db, err := sql.Open(driverNames[dialect], dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db %q: %w", dialect, cfg.Name, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	// Every connection to an in-memory database is a separate database.
	if isMemoryDSN(dialect, dsn) {
		db.SetMaxOpenConns(1)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db %q: %w", dialect, cfg.Name, err)
	}

	return NewSQLSource(cfg.Name, dialect, db, cfg.URL), nil
}

// ParseURL maps a connection URL to its dialect and the DSN its driver expects.
// driver, when set, overrides the dialect implied by the URL scheme.
func ParseURL(raw, driver string) (Dialect, string, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		if strings.HasPrefix(raw, "file:") {
			scheme, rest = "file", raw
		} else {
			return "", "", fmt.Errorf("unsupported data source url %q", RedactURL(raw))
		}
	}
	scheme = strings.ToLower(scheme)

	dialect, err := dialectForScheme(scheme)
	if err != nil {
		return "", "", err
	}
	if d := Dialect(strings.ToLower(strings.TrimSpace(driver))); d != "" {
		if _, ok := driverNames[d]; !ok {
			return "", "", fmt.Errorf("unsupported driver %q", driver)
		}
		dialect = d
	}

	switch dialect {
	case Postgres:
		return dialect, raw, nil
	case MySQL:
		dsn, err := mysqlDSN(raw)
		return dialect, dsn, err
	case SQLServer:
		if scheme == "mssql" {
			raw = "sqlserver://" + rest
		}
		return dialect, raw, nil
	case SQLite:
		if scheme == "file" {
			return dialect, raw, nil
		}
		if rest == "" {
			return "", "", fmt.Errorf("sqlite url requires a path")
		}
		return dialect, rest, nil
	case DuckDB:
		if rest == ":memory:" {
			rest = ""
		}
		return dialect, rest, nil
	}
	return "", "", fmt.Errorf("unsupported dialect %q", dialect)
}

func dialectForScheme(scheme string) (Dialect, error) {
	switch scheme {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	case "sqlite", "sqlite3", "file":
		return SQLite, nil
	case "duckdb":
		return DuckDB, nil
	}
	return "", fmt.Errorf("unsupported url scheme %q", scheme)
}

func mysqlDSN(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse mysql url: %w", err)
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[key] = values[0]
	}
	return cfg.FormatDSN(), nil
}

func isMemoryDSN(dialect Dialect, dsn string) bool {
	switch dialect {
	case SQLite:
		return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
	case DuckDB:
		return dsn == ""
	}
	return false
}
