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

package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	db := sqlx.NewDb(raw, "pgx")
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestUserByAPIKeyTouchesLastUsed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIdentityRepo(db)

	mock.ExpectQuery(`SELECT u\.id, u\.email`).
		WithArgs("live-key").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "is_active", "created_at"}).
			AddRow(int64(7), "owner@example.com", true, time.Now()))
	mock.ExpectExec(`UPDATE api_keys SET last_used`).
		WithArgs("live-key").
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := repo.UserByAPIKey(context.Background(), "live-key")
	if err != nil {
		t.Fatalf("UserByAPIKey: %v", err)
	}
	if u.ID != 7 {
		t.Errorf("user id = %d, want 7", u.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUserByAPIKeyUnknownKey(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIdentityRepo(db)

	mock.ExpectQuery(`SELECT u\.id, u\.email`).
		WithArgs("revoked").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "is_active", "created_at"}))

	_, err := repo.UserByAPIKey(context.Background(), "revoked")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("err = %v, want ErrInvalidAPIKey", err)
	}
	// No UPDATE expected: last_used stays untouched on failure.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertBatchCommitsInChunks(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepo(db)

	rows := make([]Snapshot, 120)
	for i := range rows {
		rows[i] = Snapshot{
			UserID:      1,
			ServiceName: "payments",
			Endpoint:    "/charge",
			Window:      "1h",
		}
	}

	// 120 rows -> chunks of 50, 50, 20, each its own transaction.
	for _, size := range []int{50, 50, 20} {
		mock.ExpectBegin()
		for i := 0; i < size; i++ {
			mock.ExpectExec(`INSERT INTO aggregate_snapshots`).
				WillReturnResult(sqlmock.NewResult(0, 1))
		}
		mock.ExpectCommit()
	}

	n, err := repo.InsertBatch(context.Background(), rows)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if n != 120 {
		t.Errorf("written = %d, want 120", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertBatchKeepsEarlierChunksOnFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepo(db)

	rows := make([]Snapshot, 60)

	mock.ExpectBegin()
	for i := 0; i < 50; i++ {
		mock.ExpectExec(`INSERT INTO aggregate_snapshots`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO aggregate_snapshots`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	n, err := repo.InsertBatch(context.Background(), rows)
	if err == nil {
		t.Fatal("expected error from second chunk")
	}
	if n != 50 {
		t.Errorf("written = %d, want 50 (first chunk committed)", n)
	}
}
