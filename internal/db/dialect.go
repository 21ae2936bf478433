package db

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Dialect is a database/sql driver name plus the SQL differences between them.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// DefaultTable is the table records are appended to.
const DefaultTable = "elb_log_data"

// maxRowsPerInsert keeps a multi-row INSERT below every driver's placeholder limit.
const maxRowsPerInsert = 1000

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}

// Quote quotes a possibly schema-qualified identifier.
func (d Dialect) Quote(ident string) string {
	q := `"`
	if d == MySQL {
		q = "`"
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = q + p + q
	}
	return strings.Join(parts, ".")
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

type column struct {
	name     string
	mysql    string
	postgres string
	sqlite   string
}

var columns = []column{
	{"log_timestamp", "DATETIME NOT NULL", "TIMESTAMP NOT NULL", "DATETIME NOT NULL"},
	{"client_ip", "VARCHAR(64)", "VARCHAR(64)", "TEXT"},
	{"http_method", "VARCHAR(32)", "VARCHAR(32)", "TEXT"},
	{"requested_path", "TEXT", "TEXT", "TEXT"},
	{"elb_status_code", "INT NOT NULL", "INTEGER NOT NULL", "INTEGER NOT NULL"},
	{"backend_status_code", "INT NULL", "INTEGER NULL", "INTEGER NULL"},
	{"total_processing_time_ms", "DOUBLE", "DOUBLE PRECISION", "REAL"},
	{"received_bytes", "BIGINT", "BIGINT", "INTEGER"},
	{"sent_bytes", "BIGINT", "BIGINT", "INTEGER"},
	{"user_agent_full", "TEXT", "TEXT", "TEXT"},
	{"ua_browser_family", "VARCHAR(128)", "VARCHAR(128)", "TEXT"},
	{"ua_os_family", "VARCHAR(128)", "VARCHAR(128)", "TEXT"},
	{"log_source_file", "VARCHAR(1024)", "VARCHAR(1024)", "TEXT"},
}

// CreateTableSQL returns a CREATE TABLE IF NOT EXISTS for the record columns.
func (d Dialect) CreateTableSQL(table string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(d.Quote(table))
	b.WriteString(" (\n")
	for i, c := range columns {
		typ := c.sqlite
		switch d {
		case MySQL:
			typ = c.mysql
		case Postgres:
			typ = c.postgres
		}
		b.WriteString("  ")
		b.WriteString(d.Quote(c.name))
		b.WriteString(" ")
		b.WriteString(typ)
		if i < len(columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

// Options are the connection settings of the relational sink.
type Options struct {
	Driver   string
	DSN      string // used as-is when set
	User     string
	Password string
	Host     string
	Name     string
	SSLMode  string // postgres only
	Table    string
}

// DSN builds the driver-specific data source name.
func (d Dialect) DSN(o Options) string {
	if o.DSN != "" {
		return o.DSN
	}
	switch d {
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = o.User
		cfg.Passwd = o.Password
		cfg.Net = "tcp"
		cfg.Addr = o.Host
		cfg.DBName = o.Name
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return cfg.FormatDSN()
	case Postgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   o.Host,
			Path:   "/" + o.Name,
		}
		if o.User != "" {
			u.User = url.UserPassword(o.User, o.Password)
		}
		if o.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {o.SSLMode}}.Encode()
		}
		return u.String()
	default:
		return o.Name
	}
}
