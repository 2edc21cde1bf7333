// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/roost-cluster/roost/lib/clock"
	"github.com/roost-cluster/roost/lib/schema"
	"github.com/roost-cluster/roost/lib/sealed"
	"github.com/roost-cluster/roost/lib/sqlitepool"
)

var (
	// errInvalidHeartbeat marks heartbeats the worker must fix. They
	// are answered as client errors and never count toward pending.
	errInvalidHeartbeat = errors.New("invalid heartbeat")

	// errWorkerIDsExhausted means the ID space is full. The worker may
	// retry; a decommission frees an ID.
	errWorkerIDsExhausted = errors.New("worker ID space exhausted")
)

// Registry is the controller's persistent view of the fleet. Worker
// identity is the hardware serial: a worker keeps its ID across
// reboots, re-provisions, and address changes. IDs are assigned
// lowest-free, bounded by schema.MaxWorkerID.
type Registry struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS workers (
	worker_id         INTEGER PRIMARY KEY,
	serial            TEXT NOT NULL UNIQUE,
	identifier        TEXT NOT NULL,
	version           TEXT NOT NULL DEFAULT '',
	kernel_version    TEXT NOT NULL DEFAULT '',
	control_ip        TEXT NOT NULL DEFAULT '',
	data_ip           TEXT NOT NULL DEFAULT '',
	data_plane        TEXT NOT NULL DEFAULT 'ethernet',
	data_connectivity INTEGER NOT NULL DEFAULT 0,
	public_key        TEXT NOT NULL DEFAULT '',
	last_seen         INTEGER NOT NULL
);
`

// OpenRegistry opens (creating if needed) the registry database.
func OpenRegistry(path string, clk clock.Clock, logger *slog.Logger) (*Registry, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, registrySchema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &Registry{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the underlying pool.
func (r *Registry) Close() error {
	return r.pool.Close()
}

// RecordHeartbeat updates the worker's registration from a heartbeat,
// registering it with the lowest free ID on first contact. The
// returned ID is authoritative; workers adopt it from the ack.
func (r *Registry) RecordHeartbeat(ctx context.Context, hb schema.WorkerHeartbeat) (int, error) {
	if hb.Serial == "" {
		return 0, fmt.Errorf("%w: no serial", errInvalidHeartbeat)
	}
	if !hb.DataPlane.Valid() {
		return 0, fmt.Errorf("%w: unknown data plane %q", errInvalidHeartbeat, hb.DataPlane)
	}
	if hb.PublicKey != "" {
		// Reject garbage keys here rather than at switch_to_wifi time,
		// when the operator is waiting on the command.
		if err := sealed.ParsePublicKey(hb.PublicKey); err != nil {
			return 0, fmt.Errorf("%w: %v", errInvalidHeartbeat, err)
		}
	}

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer r.pool.Put(conn)

	workerID := -1
	err = sqlitex.Execute(conn, "SELECT worker_id FROM workers WHERE serial = ?", &sqlitex.ExecOptions{
		Args: []any{hb.Serial},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			workerID = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("looking up %s: %w", hb.Serial, err)
	}

	if workerID < 0 {
		workerID, err = r.lowestFreeID(conn)
		if err != nil {
			return 0, err
		}
		r.logger.Info("registering new worker",
			"worker_id", workerID,
			"serial", hb.Serial,
			"identifier", hb.Identifier,
		)
		err = sqlitex.Execute(conn, `
			INSERT INTO workers (worker_id, serial, identifier, version, kernel_version,
				control_ip, data_ip, data_plane, data_connectivity, public_key, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				workerID, hb.Serial, hb.Identifier, hb.Version, hb.KernelVersion,
				hb.ControlIP, hb.DataIP, string(hb.DataPlane), boolToInt(hb.DataConnectivity),
				hb.PublicKey, r.clock.Now().Unix(),
			}},
		)
		if err != nil {
			return 0, fmt.Errorf("registering %s: %w", hb.Serial, err)
		}
		return workerID, nil
	}

	err = sqlitex.Execute(conn, `
		UPDATE workers SET identifier = ?, version = ?, kernel_version = ?,
			control_ip = ?, data_ip = ?, data_plane = ?, data_connectivity = ?,
			public_key = ?, last_seen = ?
		WHERE worker_id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			hb.Identifier, hb.Version, hb.KernelVersion, hb.ControlIP, hb.DataIP,
			string(hb.DataPlane), boolToInt(hb.DataConnectivity),
			hb.PublicKey, r.clock.Now().Unix(), workerID,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("updating worker %d: %w", workerID, err)
	}
	return workerID, nil
}

// lowestFreeID scans for the smallest unused worker ID. Sticky serial
// assignment means the table is sparse after decommissions; freed IDs
// are reused.
func (r *Registry) lowestFreeID(conn *sqlite.Conn) (int, error) {
	used := make(map[int]bool)
	err := sqlitex.Execute(conn, "SELECT worker_id FROM workers", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			used[stmt.ColumnInt(0)] = true
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("scanning worker ids: %w", err)
	}
	for id := 0; id <= schema.MaxWorkerID; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d IDs are assigned", errWorkerIDsExhausted, schema.MaxWorkerID+1)
}

// Workers lists every registration with health derived from heartbeat
// staleness against interval.
func (r *Registry) Workers(ctx context.Context, interval time.Duration) ([]schema.WorkerRegistration, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	now := r.clock.Now()
	var workers []schema.WorkerRegistration
	err = sqlitex.Execute(conn, `
		SELECT worker_id, serial, identifier, kernel_version, control_ip, data_ip,
			data_plane, data_connectivity, public_key, last_seen
		FROM workers ORDER BY worker_id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				lastSeen := time.Unix(stmt.ColumnInt64(9), 0)
				workers = append(workers, schema.WorkerRegistration{
					WorkerID:         stmt.ColumnInt(0),
					Serial:           stmt.ColumnText(1),
					Identifier:       stmt.ColumnText(2),
					KernelVersion:    stmt.ColumnText(3),
					ControlIP:        stmt.ColumnText(4),
					DataIP:           stmt.ColumnText(5),
					DataPlane:        schema.DataPlane(stmt.ColumnText(6)),
					DataConnectivity: stmt.ColumnInt(7) != 0,
					PublicKey:        stmt.ColumnText(8),
					Health:           healthFor(now.Sub(lastSeen), interval),
					LastSeen:         lastSeen,
				})
				return nil
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}
	return workers, nil
}

// Worker returns one registration by ID.
func (r *Registry) Worker(ctx context.Context, workerID int, interval time.Duration) (*schema.WorkerRegistration, error) {
	workers, err := r.Workers(ctx, interval)
	if err != nil {
		return nil, err
	}
	for i := range workers {
		if workers[i].WorkerID == workerID {
			return &workers[i], nil
		}
	}
	return nil, fmt.Errorf("worker %d is not registered", workerID)
}

// Remove deletes a registration, freeing its ID for reassignment.
func (r *Registry) Remove(ctx context.Context, workerID int) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM workers WHERE worker_id = ?", &sqlitex.ExecOptions{
		Args: []any{workerID},
	})
	if err != nil {
		return fmt.Errorf("removing worker %d: %w", workerID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("worker %d is not registered", workerID)
	}
	r.logger.Info("worker removed", "worker_id", workerID)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
