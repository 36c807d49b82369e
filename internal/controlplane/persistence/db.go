// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package persistence is the Durable Store: sqlx repositories over Postgres
// for signals, rollups, snapshots, insights and identity.
package persistence

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// DB holds two pools over the same database: a small one for the request hot
// path and a larger one for the background workers, so a long rollup can never
// starve API queries of connections.
type DB struct {
	Hot  *sqlx.DB
	Jobs *sqlx.DB
}

// Open connects both pools.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	hot, err := open(ctx, databaseURL, 10)
	if err != nil {
		return nil, fmt.Errorf("open hot pool: %w", err)
	}
	jobs, err := open(ctx, databaseURL, 20)
	if err != nil {
		hot.Close()
		return nil, fmt.Errorf("open jobs pool: %w", err)
	}
	return &DB{Hot: hot, Jobs: jobs}, nil
}

func open(ctx context.Context, url string, maxConns int) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases both pools.
func (d *DB) Close() error {
	err1 := d.Hot.Close()
	err2 := d.Jobs.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
