// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb holds types to fake an in-memory DB.
//
// Queries return the rows given to Run. Statements executed through
// Exec are recorded and can be inspected with Execs.
package fakedb // import "github.com/go-lpc/hbus/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

var query struct {
	mu   sync.Mutex
	rows Rows
}

var exec struct {
	mu    sync.Mutex
	id    int64
	stmts []Exec
}

// Exec is a statement executed against the fake DB.
type Exec struct {
	Query string
	Args  []driver.Value
}

// Run runs f with the fake DB answering queries with rows.
// The log of executed statements is cleared before f is called.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	query.mu.Lock()
	defer query.mu.Unlock()
	query.rows = rows

	exec.mu.Lock()
	exec.id = 0
	exec.stmts = nil
	exec.mu.Unlock()

	return f(ctx)
}

// Execs returns the statements executed so far.
func Execs() []Exec {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return append([]Exec(nil), exec.stmts...)
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

// Open returns a new connection to the database.
// The name is a string in a driver-specific format.
//
// Open may return a cached connection (one previously
// closed), but doing so is unnecessary; the sql package
// maintains a pool of idle connections for efficient re-use.
//
// The returned connection is only used by one goroutine at a
// time.
func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

// Close invalidates and potentially stops any current
// prepared statements and transactions, marking this
// connection as no longer in use.
func (c *Conn) Close() error {
	return nil
}

// Begin starts and returns a new transaction.
//
// Deprecated: Drivers should implement ConnBeginTx instead (or additionally).
func (c *Conn) Begin() (driver.Tx, error) {
	return &Tx{}, nil
}

// Tx is a no-op transaction: statements are applied as they are executed.
type Tx struct{}

func (tx *Tx) Commit() error   { return nil }
func (tx *Tx) Rollback() error { return nil }

type Stmt struct {
	query string
}

// Close closes the statement.
func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns the number of placeholder parameters.
//
// NumInput may also return -1, if the driver doesn't know
// its number of placeholders. In that case, the sql package
// will not sanity check Exec or Query argument counts.
func (stmt *Stmt) NumInput() int {
	return -1
}

// Exec executes a query that doesn't return rows, such
// as an INSERT or UPDATE.
//
// Deprecated: Drivers should implement StmtExecContext instead (or additionally).
func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	exec.id++
	exec.stmts = append(exec.stmts, Exec{
		Query: stmt.query,
		Args:  append([]driver.Value(nil), args...),
	})
	return Result{id: exec.id}, nil
}

// Query executes a query that may return rows, such as a
// SELECT.
//
// Deprecated: Drivers should implement StmtQueryContext instead (or additionally).
func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return &query.rows, nil
}

// Result is the result of an executed statement.
// Each statement affects one row, identified by an increasing ID.
type Result struct {
	id int64
}

func (res Result) LastInsertId() (int64, error) { return res.id, nil }
func (res Result) RowsAffected() (int64, error) { return 1, nil }

type Rows struct {
	Names  []string
	Values [][]driver.Value
}

// Columns returns the names of the columns. The number of
// columns of the result is inferred from the length of the
// slice. If a particular column name isn't known, an empty
// string should be returned for that entry.
func (rows *Rows) Columns() []string {
	return rows.Names
}

// Close closes the rows iterator.
func (rows *Rows) Close() error {
	return nil
}

// Next is called to populate the next row of data into
// the provided slice. The provided slice will be the same
// size as the Columns() are wide.
//
// Next should return io.EOF when there are no more rows.
func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Tx     = (*Tx)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Result = (*Result)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
