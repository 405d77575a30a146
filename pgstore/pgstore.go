// Package pgstore loads pixel tables into PostgreSQL with COPY.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/lib/pq"
	"github.com/nci/polydrill/processor"
)

type Config struct {
	DSN string
	// Table may be schema qualified, e.g. "drill.pixels".
	Table string
	// Create issues CREATE TABLE IF NOT EXISTS before loading.
	Create bool
	Pool   int
}

type Store struct {
	db     *sql.DB
	schema string
	table  string
	create bool
}

func Open(cfg Config) (*Store, error) {
	if len(cfg.Table) == 0 {
		return nil, fmt.Errorf("pgstore: table name is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	if cfg.Pool > 0 {
		db.SetMaxIdleConns(cfg.Pool)
		db.SetMaxOpenConns(cfg.Pool)
	}
	return NewStore(db, cfg.Table, cfg.Create), nil
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB, table string, create bool) *Store {
	schema, name := splitTable(table)
	return &Store{db: db, schema: schema, table: name, create: create}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func splitTable(fqn string) (string, string) {
	if i := strings.Index(fqn, "."); i >= 0 {
		return fqn[:i], fqn[i+1:]
	}
	return "", fqn
}

func (s *Store) qualifiedName() string {
	if len(s.schema) > 0 {
		return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(s.table)
	}
	return pq.QuoteIdentifier(s.table)
}

// CreateTableSQL returns the DDL for a table holding t. Attribute column
// types follow the first non-missing value of each column.
func (s *Store) CreateTableSQL(t *processor.PixelTable) string {
	header := t.Header()
	nMeta := len(t.MetaColumns)

	defs := make([]string, len(header))
	for i, name := range header {
		var sqlType string
		switch {
		case i < nMeta:
			sqlType = metaColumnType(t, i)
		case i == nMeta+1:
			sqlType = "integer"
		default:
			sqlType = "double precision"
		}
		defs[i] = pq.QuoteIdentifier(name) + " " + sqlType
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.qualifiedName(), strings.Join(defs, ", "))
}

func metaColumnType(t *processor.PixelTable, col int) string {
	for _, row := range t.Rows {
		switch row.Meta[col].(type) {
		case nil:
			continue
		case int64, int:
			return "bigint"
		case float64:
			return "double precision"
		default:
			return "text"
		}
	}
	return "text"
}

// Write copies every row of t into the table in one transaction and
// returns the number of rows loaded.
func (s *Store) Write(ctx context.Context, t *processor.PixelTable) (int64, error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("pgstore: %w", err)
	}
	defer txn.Rollback()

	if s.create {
		if _, err := txn.ExecContext(ctx, s.CreateTableSQL(t)); err != nil {
			return 0, fmt.Errorf("pgstore: create %s: %w", s.qualifiedName(), err)
		}
	}

	var copySQL string
	if len(s.schema) > 0 {
		copySQL = pq.CopyInSchema(s.schema, s.table, t.Header()...)
	} else {
		copySQL = pq.CopyIn(s.table, t.Header()...)
	}
	stmt, err := txn.PrepareContext(ctx, copySQL)
	if err != nil {
		return 0, fmt.Errorf("pgstore: copy into %s: %w", s.qualifiedName(), err)
	}

	var n int64
	for _, row := range t.Rows {
		if _, err := stmt.ExecContext(ctx, rowArgs(row)...); err != nil {
			stmt.Close()
			return 0, fmt.Errorf("pgstore: row %d: %w", n, err)
		}
		n++
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("pgstore: flushing copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("pgstore: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("pgstore: commit: %w", err)
	}
	return n, nil
}

func rowArgs(row processor.PixelRow) []interface{} {
	args := make([]interface{}, 0, len(row.Meta)+2+len(row.Bands)+len(row.Derived))
	for _, v := range row.Meta {
		args = append(args, v)
	}
	args = append(args, nullFloat(row.CoverFrac), row.PxID)
	for _, v := range row.Bands {
		args = append(args, nullFloat(v))
	}
	for _, v := range row.Derived {
		args = append(args, nullFloat(v))
	}
	return args
}

func nullFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}
