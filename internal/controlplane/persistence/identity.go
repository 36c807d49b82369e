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
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrInvalidAPIKey marks an unknown, revoked, or disabled-account key.
var ErrInvalidAPIKey = errors.New("invalid api key")

// IdentityRepo resolves API keys to accounts.
type IdentityRepo struct {
	db *sqlx.DB
}

// NewIdentityRepo wraps a pool.
func NewIdentityRepo(db *sqlx.DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

// UserByAPIKey resolves a bearer key to its owning user. Only active keys on
// active accounts authenticate; last_used is touched only on success, so a
// probe with a revoked key leaves no trace on the key row.
func (r *IdentityRepo) UserByAPIKey(ctx context.Context, key string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `
		SELECT u.id, u.email, u.is_active, u.created_at
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.key = $1 AND k.is_active = TRUE AND u.is_active = TRUE`,
		key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used = NOW() WHERE key = $1`, key); err != nil {
		return nil, fmt.Errorf("touch api key: %w", err)
	}
	return &u, nil
}
