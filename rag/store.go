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

package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Document is one stored document in the local RAG corpus.
type Document struct {
	DocID     string         `json:"doc_id"`
	URL       string         `json:"url,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DocumentStore persists the local document corpus used by the builtin
// retrieval fallback. Stores are read/append-only per request; concurrent
// writers of the same document key must be serialized by the
// implementation.
type DocumentStore interface {
	// Put stores a document under its DocID, replacing any previous
	// version atomically.
	Put(ctx context.Context, doc Document) error

	// Get retrieves a document by id.
	Get(ctx context.Context, docID string) (*Document, error)

	// List returns all stored documents in a stable enumeration order.
	List(ctx context.Context) ([]Document, error)
}

// FileStore is a filesystem-backed DocumentStore writing one JSON file
// per document. Same-key writers are serialized with a per-key lock and
// writes go through a temp file plus rename so readers never observe a
// partial document.
type FileStore struct {
	dir   string
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

// NewFileStore creates the store directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document dir: %w", err)
	}
	return &FileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the mutex serializing writers of one doc id. Ids are
// content and url hashes, so the map is bounded by corpus size and entries
// are reused across overwrites rather than pruned.
func (s *FileStore) keyLock(docID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[docID] = l
	}
	return l
}

// Put implements DocumentStore.
func (s *FileStore) Put(ctx context.Context, doc Document) error {
	if doc.DocID == "" {
		return fmt.Errorf("document has no doc_id")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", doc.DocID, err)
	}

	l := s.keyLock(doc.DocID)
	l.Lock()
	defer l.Unlock()

	final := filepath.Join(s.dir, doc.DocID+".json")
	tmp, err := os.CreateTemp(s.dir, doc.DocID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write document %s: %w", doc.DocID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to store document %s: %w", doc.DocID, err)
	}
	return nil
}

// Get implements DocumentStore.
func (s *FileStore) Get(ctx context.Context, docID string) (*Document, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, docID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("document %q not found", docID)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", docID, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", docID, err)
	}
	return &doc, nil
}

// List implements DocumentStore. Entries are sorted by filename so the
// enumeration order is stable on a given host.
func (s *FileStore) List(ctx context.Context) ([]Document, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			// A document deleted between ReadDir and ReadFile is not an
			// error for the listing as a whole.
			continue
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// RedisStore is a Redis-backed DocumentStore. Documents live under
// rag:doc:<id> with the id set rag:docs as the enumeration index. SET is
// atomic per key, which gives the same-key serialization the store
// contract requires.
type RedisStore struct {
	client *redis.Client
}

const (
	redisDocPrefix = "rag:doc:"
	redisDocIndex  = "rag:docs"
)

// NewRedisStore creates a store over an existing Redis client and
// verifies connectivity.
func NewRedisStore(ctx context.Context, client *redis.Client) (*RedisStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Put implements DocumentStore.
func (s *RedisStore) Put(ctx context.Context, doc Document) error {
	if doc.DocID == "" {
		return fmt.Errorf("document has no doc_id")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", doc.DocID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisDocPrefix+doc.DocID, data, 0)
	pipe.SAdd(ctx, redisDocIndex, doc.DocID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store document %s: %w", doc.DocID, err)
	}
	return nil
}

// Get implements DocumentStore.
func (s *RedisStore) Get(ctx context.Context, docID string) (*Document, error) {
	data, err := s.client.Get(ctx, redisDocPrefix+docID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("document %q not found", docID)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", docID, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", docID, err)
	}
	return &doc, nil
}

// List implements DocumentStore. Ids from the index set are sorted so the
// enumeration order is stable.
func (s *RedisStore) List(ctx context.Context) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, redisDocIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	sort.Strings(ids)

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// Ensure both backends implement DocumentStore.
var (
	_ DocumentStore = (*FileStore)(nil)
	_ DocumentStore = (*RedisStore)(nil)
)
