// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hbdb holds types to access the HyperBus boards configuration
// and verification results database.
package hbdb // import "github.com/go-lpc/hbus/hbdb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/go-lpc/hbus/hyperbus"
	"github.com/go-lpc/hbus/verif"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to retrieve boards configuration and
// to record verification runs.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("hbdb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("hbdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Config is the configuration of a board.
type Config struct {
	Board    string
	Latency  hyperbus.Latency
	DeviceID uint16
}

// BoardConfig returns the last configuration registered for board.
func (db *DB) BoardConfig(ctx context.Context, board string) (Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg := Config{Board: board}
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT latency, device_id FROM boards WHERE name=? ORDER BY datetime DESC LIMIT 1",
		board,
	)
	if err != nil {
		return cfg, fmt.Errorf("hbdb: could not query board %q cfg: %w", board, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			lat uint8
			id  uint16
		)
		err = rows.Scan(&lat, &id)
		if err != nil {
			return cfg, fmt.Errorf("hbdb: could not get board %q cfg: %w", board, err)
		}
		cfg.Latency = hyperbus.Latency(lat)
		cfg.DeviceID = id
		n++
	}

	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("hbdb: could not scan db for board %q cfg: %w", board, err)
	}

	if err := ctx.Err(); err != nil {
		return cfg, fmt.Errorf("hbdb: context error while retrieving board %q cfg: %w", board, err)
	}

	if n == 0 {
		return cfg, fmt.Errorf("hbdb: no configuration for board %q", board)
	}

	if !cfg.Latency.Valid() {
		return cfg, fmt.Errorf(
			"hbdb: invalid board %q cfg latency %d: %w",
			board, cfg.Latency, hyperbus.ErrLatency,
		)
	}

	return cfg, nil
}

// Run describes one verification run on a board.
type Run struct {
	Board   string
	Seed    int64
	Start   time.Time
	Results []verif.Result
}

// RecordRun stores a verification run and its scenario results.
// It returns the identifier of the stored run.
func (db *DB) RecordRun(ctx context.Context, run Run) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("hbdb: could not start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	status := "ok"
	for _, res := range run.Results {
		if !res.OK() {
			status = "fail"
			break
		}
	}

	res, err := tx.ExecContext(
		ctx,
		"INSERT INTO runs (board, seed, start, status) VALUES (?, ?, ?, ?)",
		run.Board, run.Seed, run.Start, status,
	)
	if err != nil {
		return 0, fmt.Errorf("hbdb: could not insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("hbdb: could not retrieve run id: %w", err)
	}

	for _, res := range run.Results {
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO results (run, scenario, ok, error, spins, elapsed) VALUES (?, ?, ?, ?, ?, ?)",
			id, res.Name, res.OK(), msg, res.Spins, res.Elapsed.Seconds(),
		)
		if err != nil {
			return id, fmt.Errorf("hbdb: could not insert result %q of run %d: %w", res.Name, id, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return id, fmt.Errorf("hbdb: could not commit run %d: %w", id, err)
	}

	return id, nil
}
