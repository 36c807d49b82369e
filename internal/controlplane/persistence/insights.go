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
	"fmt"

	"github.com/jmoiron/sqlx"
)

// InsightRepo appends tuning-loop analysis notes. Append-only.
type InsightRepo struct {
	db *sqlx.DB
}

// NewInsightRepo wraps a pool.
func NewInsightRepo(db *sqlx.DB) *InsightRepo {
	return &InsightRepo{db: db}
}

// Insert appends one insight.
func (r *InsightRepo) Insert(ctx context.Context, in Insight) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ai_insights
			(user_id, service_name, endpoint, insight_type, content, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		in.UserID, in.ServiceName, in.Endpoint, in.InsightType, in.Content, in.Confidence)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}
