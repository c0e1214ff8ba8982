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

// Package gateway is the HTTP surface of the provider-fallback router:
// capability endpoints, provider registry loading, metrics, and process
// wiring.
package gateway

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/cors"

	"controlcenter/gateway/agenttask"
	"controlcenter/gateway/rag"
	"controlcenter/gateway/routing"
)

// Run is the exported entry point for the gateway service.
//
// It loads the provider registry, wires the document and task stores, sets
// up HTTP routes, and starts the server. The function blocks until the
// server is shut down.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8080)
//   - DATA_DIR: filesystem document store root (default: /app/data)
//   - REDIS_URL: Redis document store backend (optional)
//   - DATABASE_URL: PostgreSQL task history (optional)
//   - PROVIDERS_FILE: YAML provider registry (optional)
//   - VLLM_URL, SD_URL, TTS_URL, STT_URL, EMBED_URL, RAG_URL,
//     PERPLEXICA_URL, AGENT_ZERO_URL, AUTOGEN_URL and the matching
//     *_FALLBACK_URLS lists: provider endpoint overrides
func Run() {
	log.Println("Starting ControlCenter Gateway...")

	cfg := LoadConfig()

	registry, err := routing.LoadRegistry(cfg.ProvidersFile)
	if err != nil {
		log.Fatalf("Failed to load provider registry: %v", err)
	}
	log.Printf("Provider registry loaded: %d providers across %d capabilities",
		registry.Count(), len(registry.Capabilities()))

	docStore, err := buildDocumentStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize document store: %v", err)
	}

	taskStore := buildTaskStore(cfg)

	metrics := NewMetrics()
	selector := routing.NewSelector(registry)
	executor := routing.NewExecutor(routing.WithAttemptObserver(metrics.ObserveAttempt))
	ragSvc := rag.NewService(docStore)
	agents := agenttask.NewOrchestrator(taskStore)

	handlers := NewHandlers(selector, executor, ragSvc, agents, metrics)

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	port := cfg.Port
	handler := c.Handler(handlers.Router())
	log.Printf("ControlCenter Gateway listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

// buildDocumentStore selects the RAG document backend: Redis when
// REDIS_URL is set, filesystem otherwise.
func buildDocumentStore(cfg Config) (rag.DocumentStore, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		store, err := rag.NewRedisStore(ctx, redis.NewClient(opts))
		if err != nil {
			return nil, err
		}
		log.Println("Document store: Redis")
		return store, nil
	}

	store, err := rag.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	log.Printf("Document store: filesystem (%s)", cfg.DataDir)
	return store, nil
}

// buildTaskStore selects the task history backend. A missing or
// unreachable database degrades to in-memory history rather than failing
// startup.
func buildTaskStore(cfg Config) agenttask.TaskStore {
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set, task history kept in memory")
		return agenttask.NewMemoryStore()
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Printf("Warning: failed to open task database: %v", err)
		log.Println("Task history kept in memory")
		return agenttask.NewMemoryStore()
	}
	if err := db.Ping(); err != nil {
		log.Printf("Warning: failed to ping task database: %v", err)
		log.Println("Task history kept in memory")
		return agenttask.NewMemoryStore()
	}

	log.Println("Task history: PostgreSQL")
	return agenttask.NewPostgresStore(db)
}
