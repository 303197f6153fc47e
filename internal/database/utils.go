package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Placeholder returns the appropriate placeholder for the driver.
// For SQLite and MySQL: ?, for PostgreSQL: $1, $2, etc.
func (d *DB) Placeholder(n int) string {
	if d.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// PlaceholderList returns a comma-separated list of placeholders.
// For n=3: SQLite returns "?, ?, ?", PostgreSQL returns "$1, $2, $3".
func (d *DB) PlaceholderList(n int) string {
	result := make([]string, n)
	for i := 0; i < n; i++ {
		result[i] = d.Placeholder(i + 1)
	}
	return strings.Join(result, ", ")
}

// RebindQuery converts a query from ? placeholders to the appropriate
// placeholder style for the database driver.
func (d *DB) RebindQuery(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var builder strings.Builder
	builder.Grow(len(query) + 10)
	count := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			count++
			builder.WriteString(fmt.Sprintf("$%d", count))
		} else {
			builder.WriteByte(query[i])
		}
	}
	return builder.String()
}

// ExecContextRebound executes a query with automatic placeholder rebinding.
func (d *DB) ExecContextRebound(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.RebindQuery(query), args...)
}

// QueryRowContextRebound queries a single row with automatic placeholder rebinding.
func (d *DB) QueryRowContextRebound(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.RebindQuery(query), args...)
}

// QueryContextRebound queries multiple rows with automatic placeholder rebinding.
func (d *DB) QueryContextRebound(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.RebindQuery(query), args...)
}

// Stats reports how many calls are stored and how many of them are still unfinalized.
type Stats struct {
	Calls     int64 `json:"calls"`
	Finalized int64 `json:"finalized"`
	Pending   int64 `json:"pending"`
	Streamed  int64 `json:"streamed"`
	Errored   int64 `json:"errored"`
}

// GetStats returns call counters.
func (d *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls").Scan(&s.Calls); err != nil {
		return Stats{}, fmt.Errorf("failed to count calls: %w", err)
	}
	var streamed, errored sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN is_stream THEN 1 ELSE 0 END),
			SUM(CASE WHEN error IS NOT NULL AND error <> '' THEN 1 ELSE 0 END)
		FROM responses`).Scan(&s.Finalized, &streamed, &errored)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count responses: %w", err)
	}
	s.Streamed = streamed.Int64
	s.Errored = errored.Int64
	s.Pending = s.Calls - s.Finalized
	return s, nil
}
