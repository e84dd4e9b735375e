// Package sqlstore implements storage.Repository once over database/sql.
//
// Backends differ only in the SQL fragments a Dialect renders: identifier
// quoting, placeholders, column types, idempotent insert and upsert forms, and
// how time values are bound. Statements here are written with '?' placeholders
// and rebound for the dialect right before execution.
package sqlstore

import (
	"strings"
	"time"

	"priceetl/internal/storage"
)

// Dialect renders backend-specific SQL.
type Dialect interface {
	Name() string
	Ident(name string) string
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	ColumnType(t storage.ColumnType) string
	// AutoID is the full column definition of an auto-increment primary key.
	AutoID(col string) string
	// CreateTable wraps column definitions in an idempotent CREATE TABLE.
	CreateTable(table, defs string) string
	CreateIndex(table string, idx storage.IndexSpec) string
	// InsertIgnore inserts rows whose conflict columns are not present yet.
	InsertIgnore(table string, cols, conflict []string, rows int) string
	// Upsert inserts rows, updating the update columns on conflict.
	Upsert(table string, cols, conflict, update []string, rows int) string
	// LockedFrom renders a table reference for an existence check that must
	// serialize with concurrent inserts of the same key.
	LockedFrom(table, alias string) string
	SelectTop(n int, cols, rest string) string
	// Cast wraps a placeholder so its type is known in INSERT ... SELECT.
	Cast(ph string, t storage.ColumnType) string
	MaxParams() int
	BindTime(t time.Time) any
	BindDate(t time.Time) any
}

// maxRowsPerStatement caps multi-row VALUES lists (SQL Server rejects more
// than 1000 row constructors in one INSERT).
const maxRowsPerStatement = 1000

// Rebind replaces '?' markers with the dialect's placeholders in order.
func Rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// IdentList quotes and comma-joins column names, optionally prefixed by a
// table alias.
func IdentList(d Dialect, alias string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		if alias != "" {
			parts[i] = alias + "." + d.Ident(c)
		} else {
			parts[i] = d.Ident(c)
		}
	}
	return strings.Join(parts, ", ")
}

// ValuesList renders rows tuples of cols '?' markers.
func ValuesList(cols, rows int) string {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(tuple+", ", rows), ", ")
}

// Assignments renders "target.c = source.c" pairs joined by sep.
func Assignments(d Dialect, target, source string, cols []string, sep string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		l, r := d.Ident(c), d.Ident(c)
		if target != "" {
			l = target + "." + l
		}
		if source != "" {
			r = source + "." + r
		}
		parts[i] = l + " = " + r
	}
	return strings.Join(parts, sep)
}

// OnConflict renders the ON CONFLICT clause shared by SQLite and Postgres:
// DO NOTHING when update is empty, otherwise DO UPDATE from excluded.
func OnConflict(d Dialect, conflict, update []string) string {
	clause := " ON CONFLICT (" + IdentList(d, "", conflict) + ") DO "
	if len(update) == 0 {
		return clause + "NOTHING"
	}
	return clause + "UPDATE SET " + Assignments(d, "", "excluded", update, ", ")
}

// CreateTableSQL renders the DDL of t for d.
func CreateTableSQL(d Dialect, t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", errEmptyTableName
	}
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == t.PrimaryKey && c.Type == storage.TypeID {
			defs = append(defs, d.AutoID(c.Name))
			continue
		}
		col := d.Ident(c.Name) + " " + d.ColumnType(c.Type)
		if !c.Nullable {
			col += " NOT NULL"
		}
		if c.Default != "" {
			col += " DEFAULT " + c.Default
		}
		if c.Name == t.PrimaryKey {
			col += " PRIMARY KEY"
		}
		defs = append(defs, col)
	}
	return d.CreateTable(t.Name, strings.Join(defs, ",\n  ")), nil
}
