// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"strings"
)

// SQLite caps bound parameters per statement (SQLITE_MAX_VARIABLE_NUMBER).
const MaxParams = 900

// Querier is the subset of *sql.DB the stores depend on.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (TxQuerier, error)
}

// TxQuerier is satisfied by *sql.Tx.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

// Placeholders returns "?, ?, ?" for n parameters.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Chunk splits values into batches no larger than MaxParams.
func Chunk[T any](values []T) [][]T {
	if len(values) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(values)+MaxParams-1)/MaxParams)
	for i := 0; i < len(values); i += MaxParams {
		end := min(i+MaxParams, len(values))
		chunks = append(chunks, values[i:end])
	}
	return chunks
}
