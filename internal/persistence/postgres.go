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
	"fmt"
	"time"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS scope_usage (
//   scope TEXT PRIMARY KEY,
//   requests BIGINT NOT NULL DEFAULT 0,
//   input_tokens BIGINT NOT NULL DEFAULT 0,
//   output_tokens BIGINT NOT NULL DEFAULT 0,
//   errors BIGINT NOT NULL DEFAULT 0,
//   cost_micros BIGINT NOT NULL DEFAULT 0
// );
//
// CREATE TABLE IF NOT EXISTS applied_commits (
//   commit_id TEXT PRIMARY KEY,
//   scope TEXT NOT NULL,
//   ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );

// PostgresPersister applies scope deltas idempotently: an INSERT ... ON
// CONFLICT DO NOTHING on applied_commits, with the scope_usage upsert run
// only when that insert added a new marker row, so a retried commit_id
// updates scope_usage at most once (adapted from
// internal/ratelimiter/persistence/postgres.go's two-statement pattern).
type PostgresPersister struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// NewPostgresPersister constructs a PostgresPersister over an existing
// *sql.DB (driver-agnostic, as in the teacher).
func NewPostgresPersister(db *sql.DB) *PostgresPersister {
	return &PostgresPersister{db: db, defaultTimeout: 10 * time.Second}
}

// CommitBatch implements IdempotentPersister.
func (p *PostgresPersister) CommitBatch(ctx context.Context, entries []CommitEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		if e.CommitID == "" {
			return fmt.Errorf("CommitEntry.CommitID must be set for scope %q", e.Scope)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO applied_commits(commit_id, scope) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			e.CommitID, e.Scope)
		if err != nil {
			return fmt.Errorf("recording commit marker for scope %q: %w", e.Scope, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			continue // commit_id already applied
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scope_usage (scope, requests, input_tokens, output_tokens, errors, cost_micros)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (scope) DO UPDATE SET
			   requests = scope_usage.requests + EXCLUDED.requests,
			   input_tokens = scope_usage.input_tokens + EXCLUDED.input_tokens,
			   output_tokens = scope_usage.output_tokens + EXCLUDED.output_tokens,
			   errors = scope_usage.errors + EXCLUDED.errors,
			   cost_micros = scope_usage.cost_micros + EXCLUDED.cost_micros
			 WHERE EXISTS (SELECT 1 FROM applied_commits WHERE commit_id = $7)`,
			e.Scope, e.Requests, e.InputTokens, e.OutputTokens, e.Errors, e.CostMicros, e.CommitID); err != nil {
			return fmt.Errorf("applying delta for scope %q: %w", e.Scope, err)
		}
	}
	return tx.Commit()
}
