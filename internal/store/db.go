package store

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/snsanalyzer/snsqa/internal/config"
	"github.com/snsanalyzer/snsqa/internal/failure"
)

type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
	DialectSQLite   Dialect = "sqlite"
)

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	default:
		return string(d)
	}
}

// Label names the backing store in provenance labels.
func (d Dialect) Label() string {
	switch d {
	case DialectMySQL:
		return "MariaDB"
	case DialectPostgres:
		return "PostgreSQL"
	case DialectDuckDB:
		return "DuckDB"
	case DialectSQLite:
		return "SQLite"
	default:
		return string(d)
	}
}

// SQLName is the SQL flavour named in generation prompts.
func (d Dialect) SQLName() string {
	if d == DialectMySQL {
		return "MySQL"
	}
	return d.Label()
}

func ParseDialect(raw string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(raw))); d {
	case DialectMySQL, DialectPostgres, DialectDuckDB, DialectSQLite:
		return d, nil
	case "mariadb":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported store dialect %q", raw)
	}
}

// Descriptor identifies the store. DSN, when set, wins over the discrete fields.
type Descriptor struct {
	Dialect  Dialect
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Charset  string
}

func (d Descriptor) DataSourceName() (string, error) {
	if strings.TrimSpace(d.DSN) != "" {
		return strings.TrimSpace(d.DSN), nil
	}
	switch d.Dialect {
	case DialectMySQL:
		if d.Database == "" {
			return "", fmt.Errorf("database name is required")
		}
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(hostOrDefault(d.Host), strconv.Itoa(portOrDefault(d.Port, 3306)))
		cfg.DBName = d.Database
		cfg.ParseTime = true
		charset := d.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		cfg.Params = map[string]string{"charset": charset}
		return cfg.FormatDSN(), nil
	case DialectPostgres:
		if d.Database == "" {
			return "", fmt.Errorf("database name is required")
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   net.JoinHostPort(hostOrDefault(d.Host), strconv.Itoa(portOrDefault(d.Port, 5432))),
			Path:   "/" + d.Database,
		}
		q := url.Values{}
		q.Set("sslmode", "disable")
		if d.Charset != "" {
			q.Set("client_encoding", d.Charset)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	case DialectDuckDB, DialectSQLite:
		// Embedded stores: the database name is a file path; empty means in-memory.
		if d.Dialect == DialectSQLite && d.Database == "" {
			return ":memory:", nil
		}
		return d.Database, nil
	default:
		return "", fmt.Errorf("unsupported store dialect %q", d.Dialect)
	}
}

type Config struct {
	Descriptor      Descriptor
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// ConfigFromSettings maps the environment-driven store settings onto a
// connection Config.
func ConfigFromSettings(settings config.StoreConfig) (Config, error) {
	dialect, err := ParseDialect(settings.Dialect)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Descriptor: Descriptor{
			Dialect:  dialect,
			DSN:      settings.DSN,
			Host:     settings.Host,
			Port:     settings.Port,
			User:     settings.User,
			Password: settings.Password,
			Database: settings.Database,
			Charset:  settings.Charset,
		},
		MaxOpenConns:    settings.MaxOpenConns,
		MaxIdleConns:    settings.MaxIdleConns,
		ConnMaxIdleTime: settings.ConnMaxIdleTime,
		ConnMaxLifetime: settings.ConnMaxLifetime,
	}, nil
}

// Open connects and pings the store. Any failure is tagged as a connection
// failure so callers can put the pipeline into its disconnected state.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	dsn, err := cfg.Descriptor.DataSourceName()
	if err != nil {
		return nil, failure.New(failure.KindConnection, "open store", err)
	}

	db, err := sqlx.Open(cfg.Descriptor.Dialect.DriverName(), dsn)
	if err != nil {
		return nil, failure.New(failure.KindConnection, "open store", err)
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

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, failure.New(failure.KindConnection, "ping store", err)
	}

	return db, nil
}

func hostOrDefault(host string) string {
	if strings.TrimSpace(host) == "" {
		return "localhost"
	}
	return strings.TrimSpace(host)
}

func portOrDefault(port, fallback int) int {
	if port <= 0 {
		return fallback
	}
	return port
}
