// Copyright 2025 ControlCenter
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

package agenttask

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// TaskRecord is one logged task execution.
type TaskRecord struct {
	TaskID    string          `json:"task_id"`
	AgentID   string          `json:"agent_id"`
	Task      string          `json:"task"`
	Context   map[string]any  `json:"context,omitempty"`
	Result    json.RawMessage `json:"result"`
	Provider  string          `json:"provider"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
}

// TaskStore persists task execution history.
type TaskStore interface {
	// Save appends one task record.
	Save(ctx context.Context, record TaskRecord) error

	// History returns records for an agent, or all records when agentID
	// is empty, oldest first.
	History(ctx context.Context, agentID string) ([]TaskRecord, error)
}

// MemoryStore is the default in-process TaskStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records []TaskRecord
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements TaskStore.
func (s *MemoryStore) Save(ctx context.Context, record TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// History implements TaskStore.
func (s *MemoryStore) History(ctx context.Context, agentID string) ([]TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskRecord, 0, len(s.records))
	for _, r := range s.records {
		if agentID == "" || r.AgentID == agentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// PostgresStore implements TaskStore using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed task store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save persists a task record to the database.
func (s *PostgresStore) Save(ctx context.Context, record TaskRecord) error {
	contextJSON, err := json.Marshal(record.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	query := `
		INSERT INTO agent_tasks (
			task_id, agent_id, task, context, result, provider, success, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.TaskID,
		record.AgentID,
		record.Task,
		contextJSON,
		[]byte(record.Result),
		record.Provider,
		record.Success,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

// History retrieves task records, filtered by agent when agentID is
// non-empty.
func (s *PostgresStore) History(ctx context.Context, agentID string) ([]TaskRecord, error) {
	query := `
		SELECT task_id, agent_id, task, context, result, provider, success, executed_at
		FROM agent_tasks
	`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = $1`
		args = append(args, agentID)
	}
	query += ` ORDER BY executed_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task history: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var contextJSON, resultJSON []byte

		if err := rows.Scan(&r.TaskID, &r.AgentID, &r.Task, &contextJSON, &resultJSON, &r.Provider, &r.Success, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan task record: %w", err)
		}

		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &r.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal task context: %w", err)
			}
		}
		r.Result = json.RawMessage(resultJSON)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task history: %w", err)
	}

	return records, nil
}

// Ensure both stores implement the TaskStore interface.
var (
	_ TaskStore = (*MemoryStore)(nil)
	_ TaskStore = (*PostgresStore)(nil)
)
