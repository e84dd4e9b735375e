// Package mssql registers the "mssql" storage backend for Microsoft SQL
// Server.
//
// SQL Server has neither IF NOT EXISTS for tables nor ON CONFLICT, so:
//   - tables and indexes are created behind OBJECT_ID / sys.indexes guards
//   - "insert if absent" is INSERT ... SELECT ... WHERE NOT EXISTS under
//     UPDLOCK+HOLDLOCK, which serializes concurrent writers of one key
//   - upserts are MERGE ... WITH (HOLDLOCK)
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"priceetl/internal/model"
	"priceetl/internal/storage"
	"priceetl/internal/storage/sqlstore"
)

// SQL Server allows 2100 parameters per request; stay clear of the edge.
const maxParams = 2000

func init() {
	storage.Register("mssql", Open)
}

// Open connects with the "sqlserver" driver and validates with a ping.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty loads.
	conns := 64
	if cfg.MaxOpenConns > 0 {
		conns = cfg.MaxOpenConns
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return sqlstore.New(db, Dialect{}), nil
}

type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "mssql" }

// Ident bracket-quotes each part of a possibly schema-qualified name.
func (Dialect) Ident(name string) string { return mssqlTableIdent(name) }

func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

func (Dialect) ColumnType(t storage.ColumnType) string {
	switch t {
	case storage.TypeID, storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeInt:
		return "INT"
	case storage.TypeString:
		return "NVARCHAR(255)"
	case storage.TypeSKU:
		return "NVARCHAR(100)"
	case storage.TypeText:
		return "NVARCHAR(MAX)"
	case storage.TypeMoney:
		return "DECIMAL(10,2)"
	case storage.TypePercent:
		return "DECIMAL(5,2)"
	case storage.TypeChangePct:
		return "DECIMAL(8,4)"
	case storage.TypeBool:
		return "BIT"
	case storage.TypeTimestamp:
		return "DATETIME2"
	case storage.TypeDate:
		return "DATE"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (Dialect) AutoID(col string) string {
	return mssqlIdent(col) + " BIGINT IDENTITY(1,1) PRIMARY KEY"
}

func (Dialect) CreateTable(table, defs string) string { return wrapCreateIfMissing(table, defs) }

func (Dialect) CreateIndex(table string, idx storage.IndexSpec) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = mssqlIdent(c)
	}
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s')) CREATE %s %s ON %s (%s);",
		escapeLiteral(idx.Name), escapeLiteral(table), kind, mssqlIdent(idx.Name), mssqlTableIdent(table), strings.Join(cols, ", "),
	)
}

// InsertIgnore materializes the rows as a derived table and inserts those
// whose conflict key is absent.
func (d Dialect) InsertIgnore(table string, cols, conflict []string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (" + sqlstore.IdentList(d, "", cols) + ")")
	b.WriteString(" SELECT " + sqlstore.IdentList(d, "src", cols))
	b.WriteString(" FROM (VALUES " + sqlstore.ValuesList(len(cols), rows) + ")")
	b.WriteString(" AS src (" + sqlstore.IdentList(d, "", cols) + ")")
	b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM " + d.LockedFrom(table, "tgt"))
	b.WriteString(" WHERE " + sqlstore.Assignments(d, "tgt", "src", conflict, " AND ") + ")")
	return b.String()
}

func (d Dialect) Upsert(table string, cols, conflict, update []string, rows int) string {
	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WITH (HOLDLOCK) AS tgt USING (VALUES " + sqlstore.ValuesList(len(cols), rows) + ")")
	b.WriteString(" AS src (" + sqlstore.IdentList(d, "", cols) + ")")
	b.WriteString(" ON " + sqlstore.Assignments(d, "tgt", "src", conflict, " AND "))
	if len(update) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET " + sqlstore.Assignments(d, "", "src", update, ", "))
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (" + sqlstore.IdentList(d, "", cols) + ")")
	b.WriteString(" VALUES (" + sqlstore.IdentList(d, "src", cols) + ");")
	return b.String()
}

func (Dialect) LockedFrom(table, alias string) string {
	return mssqlTableIdent(table) + " AS " + alias + " WITH (UPDLOCK, HOLDLOCK)"
}

func (Dialect) SelectTop(n int, cols, rest string) string {
	return fmt.Sprintf("SELECT TOP (%d) %s %s", n, cols, rest)
}

func (d Dialect) Cast(ph string, t storage.ColumnType) string {
	return "CAST(" + ph + " AS " + d.ColumnType(t) + ")"
}

func (Dialect) MaxParams() int { return maxParams }

func (Dialect) BindTime(t time.Time) any { return t.UTC() }

func (Dialect) BindDate(t time.Time) any { return model.Day(t) }

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		escapeLiteral(tableName),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.imports" -> [dbo].[imports]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func escapeLiteral(s string) string { return strings.ReplaceAll(s, "'", "''") }
