// Package schema describes the allow-listed tables the question pipeline may
// reference. A Catalog is loaded once and is read-only afterwards.
package schema

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/snsanalyzer/snsqa/internal/failure"
	"github.com/snsanalyzer/snsqa/internal/store"
)

type Column struct {
	Table string `db:"table_name"`
	Name  string `db:"column_name"`
	Type  string `db:"column_type"`
}

type Catalog struct {
	columns []Column
	tables  []string
}

// New builds a catalog from already-known columns. Column order is kept.
func New(columns []Column) *Catalog {
	c := &Catalog{columns: slices.Clone(columns)}
	for _, col := range columns {
		if !slices.Contains(c.tables, col.Table) {
			c.tables = append(c.tables, col.Table)
		}
	}
	return c
}

var introspectionQueries = map[store.Dialect]string{
	store.DialectMySQL: `
SELECT table_name AS table_name, column_name AS column_name, column_type AS column_type
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name IN (?)
ORDER BY table_name, ordinal_position`,
	store.DialectPostgres: `
SELECT table_name, column_name, data_type AS column_type
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name IN (?)
ORDER BY table_name, ordinal_position`,
	store.DialectDuckDB: `
SELECT table_name, column_name, data_type AS column_type
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name IN (?)
ORDER BY table_name, ordinal_position`,
	store.DialectSQLite: `
SELECT m.name AS table_name, p.name AS column_name, p.type AS column_type
FROM sqlite_master m JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name IN (?)
ORDER BY m.name, p.cid`,
}

// Load introspects only the allowed tables. Every allowed table must exist.
func Load(ctx context.Context, db *sqlx.DB, dialect store.Dialect, allowed []string) (*Catalog, error) {
	if db == nil {
		return nil, failure.New(failure.KindConnection, "load schema", fmt.Errorf("store is not connected"))
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("at least one allowed table is required")
	}
	base, ok := introspectionQueries[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported store dialect %q", dialect)
	}

	query, args, err := sqlx.In(base, allowed)
	if err != nil {
		return nil, fmt.Errorf("expand schema query: %w", err)
	}
	var columns []Column
	if err := db.SelectContext(ctx, &columns, db.Rebind(query), args...); err != nil {
		return nil, failure.New(failure.KindConnection, "load schema", err)
	}

	catalog := New(columns)
	for _, table := range allowed {
		if !catalog.HasTable(table) {
			return nil, fmt.Errorf("allowed table %q not found in store", table)
		}
	}
	return catalog, nil
}

func (c *Catalog) TableNames() []string {
	return slices.Clone(c.tables)
}

func (c *Catalog) Columns() []Column {
	return slices.Clone(c.columns)
}

func (c *Catalog) HasTable(name string) bool {
	return slices.ContainsFunc(c.tables, func(t string) bool { return strings.EqualFold(t, name) })
}

func (c *Catalog) HasColumn(name string) bool {
	return slices.ContainsFunc(c.columns, func(col Column) bool { return strings.EqualFold(col.Name, name) })
}

// Describe renders the catalog as CREATE TABLE statements for prompt grounding.
func (c *Catalog) Describe() string {
	var b strings.Builder
	for i, table := range c.tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", table)
		first := true
		for _, col := range c.columns {
			if col.Table != table {
				continue
			}
			if !first {
				b.WriteString(",\n")
			}
			first = false
			fmt.Fprintf(&b, "\t%s %s", col.Name, strings.ToUpper(col.Type))
		}
		b.WriteString("\n)")
	}
	return b.String()
}

var tableRefPattern = regexp.MustCompile(
	`(?i)(?:\bfrom|\bjoin|\binto|\bupdate|\btable|테이블)\s+["'\x60]?([a-z_][a-z0-9_]*(?:\.[a-z_][a-z0-9_]*)?)` +
		`|\b([a-z][a-z0-9]*_[a-z0-9_]+)["'\x60]?\s*(?:table|테이블)`,
)

// UnknownTableRefs returns table-like identifiers in text that name neither an
// allowed table nor one of its columns. It is a static audit, not a filter.
func (c *Catalog) UnknownTableRefs(text string) []string {
	var unknown []string
	for _, match := range tableRefPattern.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if name == "" {
			name = match[2]
		}
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		if !strings.Contains(name, "_") {
			// Bare words after "from"/"table" are usually prose, not identifiers.
			continue
		}
		if c.HasTable(name) || c.HasColumn(name) {
			continue
		}
		if !slices.Contains(unknown, name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}
