package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"elbetl/internal/elblog"
)

// Warehouse appends log records to one relational table.
type Warehouse struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// Open connects and pings the configured database.
func Open(ctx context.Context, o Options) (*Warehouse, error) {
	w, err := Connect(o)
	if err != nil {
		return nil, err
	}
	if err := w.db.PingContext(ctx); err != nil {
		w.Close()
		return nil, fmt.Errorf("connect %s: %w", w.dialect, err)
	}
	return w, nil
}

// Connect prepares the connection pool without talking to the server; the
// first query or Ping dials.
func Connect(o Options) (*Warehouse, error) {
	d, err := ParseDialect(o.Driver)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(string(d), d.DSN(o))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	w, err := New(conn, d, o.Table)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return w, nil
}

// New wraps an existing connection pool. An empty table means DefaultTable.
func New(conn *sql.DB, d Dialect, table string) (*Warehouse, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Warehouse{db: conn, dialect: d, table: table}, nil
}

func (w *Warehouse) Table() string { return w.table }

func (w *Warehouse) Close() error { return w.db.Close() }

func (w *Warehouse) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", w.dialect, err)
	}
	return nil
}

// EnsureTable creates the target table when it does not exist yet.
func (w *Warehouse) EnsureTable(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, w.dialect.CreateTableSQL(w.table)); err != nil {
		return fmt.Errorf("create table %s: %w", w.table, err)
	}
	return nil
}

// InsertBatch appends records inside one transaction. On error nothing is
// committed.
func (w *Warehouse) InsertBatch(ctx context.Context, records []elblog.LogRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	// no-op after Commit
	defer func() { _ = tx.Rollback() }()

	var total int64
	for start := 0; start < len(records); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(records))
		query, args := w.insertSQL(records[start:end])
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert rows %d-%d into %s: %w", start, end, w.table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		} else {
			total += int64(end - start)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

func (w *Warehouse) insertSQL(records []elblog.LogRecord) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(w.dialect.Quote(w.table))
	b.WriteString(" (")
	for i, c := range elblog.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(w.dialect.Quote(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(records)*len(elblog.Columns))
	n := 0
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range r.Values() {
			if j > 0 {
				b.WriteString(", ")
			}
			n++
			b.WriteString(w.dialect.Placeholder(n))
			args = append(args, v)
		}
		b.WriteString(")")
	}
	return b.String(), args
}
