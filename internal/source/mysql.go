// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/netSkope/ldif-export-tool/internal/record"
)

// DefaultBatchSize is the number of rows fetched per query.
const DefaultBatchSize = 1000

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// TableOptions selects the rows a TableReader reads.
type TableOptions struct {
	Stream    string
	Table     string
	KeyColumn string
	Columns   []string
	BatchSize int
}

// TableReader pages through a table in key order. Each page is its own
// query starting after the last key seen, so no cursor is held open between
// pages.
type TableReader struct {
	db      *sql.DB
	opts    TableOptions
	query   string
	first   string
	logger  *zap.Logger
	batch   []*record.Record
	pos     int
	lastKey any
	started bool
	done    bool
	total   int
}

// NewTableReader validates opts and prepares the paging queries.
func NewTableReader(db *sql.DB, opts TableOptions, logger *zap.Logger) (*TableReader, error) {
	if !identRe.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}
	if !identRe.MatchString(opts.KeyColumn) {
		return nil, fmt.Errorf("invalid key column %q", opts.KeyColumn)
	}
	cols := "*"
	if len(opts.Columns) > 0 {
		quoted := make([]string, 0, len(opts.Columns)+1)
		hasKey := false
		for _, c := range opts.Columns {
			if !identRe.MatchString(c) {
				return nil, fmt.Errorf("invalid column name %q", c)
			}
			hasKey = hasKey || strings.EqualFold(c, opts.KeyColumn)
			quoted = append(quoted, "`"+c+"`")
		}
		if !hasKey {
			return nil, fmt.Errorf("columns must include key column %q", opts.KeyColumn)
		}
		cols = strings.Join(quoted, ", ")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Stream == "" {
		opts.Stream = opts.Table
	}

	base := fmt.Sprintf("SELECT %s FROM `%s`", cols, opts.Table)
	order := fmt.Sprintf(" ORDER BY `%s` LIMIT ?", opts.KeyColumn)
	return &TableReader{
		db:     db,
		opts:   opts,
		first:  base + order,
		query:  base + fmt.Sprintf(" WHERE `%s` > ?", opts.KeyColumn) + order,
		logger: logger,
	}, nil
}

func (t *TableReader) Next(ctx context.Context) (Message, error) {
	if t.pos >= len(t.batch) {
		if t.done {
			return Message{}, io.EOF
		}
		if err := t.fetch(ctx); err != nil {
			return Message{}, err
		}
		if len(t.batch) == 0 {
			return Message{}, io.EOF
		}
	}
	rec := t.batch[t.pos]
	t.pos++
	return Message{Stream: t.opts.Stream, Record: rec}, nil
}

func (t *TableReader) fetch(ctx context.Context) error {
	var (
		rows *sql.Rows
		err  error
	)
	if !t.started {
		rows, err = t.db.QueryContext(ctx, t.first, t.opts.BatchSize)
	} else {
		rows, err = t.db.QueryContext(ctx, t.query, t.lastKey, t.opts.BatchSize)
	}
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", t.opts.Table, err)
	}
	defer rows.Close()
	t.started = true

	types, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("failed to read column types: %w", err)
	}
	keyIdx := -1
	for i, ct := range types {
		if strings.EqualFold(ct.Name(), t.opts.KeyColumn) {
			keyIdx = i
		}
	}
	if keyIdx < 0 {
		return fmt.Errorf("key column %q not in result set", t.opts.KeyColumn)
	}

	t.batch = t.batch[:0]
	t.pos = 0
	values := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		rec := record.New(len(types))
		for i, ct := range types {
			rec.Set(ct.Name(), columnValue(ct, values[i]))
		}
		t.lastKey = columnValue(types[keyIdx], values[keyIdx])
		t.batch = append(t.batch, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}

	t.total += len(t.batch)
	t.done = len(t.batch) < t.opts.BatchSize
	t.logger.Debug("Fetched table page",
		zap.String("table", t.opts.Table),
		zap.Int("rows", len(t.batch)),
		zap.Int("total_rows", t.total))
	return nil
}

// columnValue turns driver bytes into strings except for binary columns.
func columnValue(ct *sql.ColumnType, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if isBinary(ct.DatabaseTypeName()) {
		return append([]byte(nil), b...)
	}
	return string(b)
}

func isBinary(typeName string) bool {
	switch strings.ToUpper(typeName) {
	case "BINARY", "VARBINARY", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BIT", "GEOMETRY":
		return true
	}
	return false
}

// CountRows returns the row count of the reader's table, for progress logs.
func (t *TableReader) CountRows(ctx context.Context) (int64, error) {
	var n int64
	err := t.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM `%s`", t.opts.Table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}
