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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"controlcenter/gateway/agenttask"
	"controlcenter/gateway/rag"
	"controlcenter/gateway/routing"
	"controlcenter/gateway/shared/logger"
)

// Remote provider paths for envelope capabilities.
const (
	ragRetrievePath = "/retrieve"
	ragQAPath       = "/qa"
	ragCrawlPath    = "/crawl"
	agentExecPath   = "/execute"
)

// Handlers wires the routing core, builtin services, and metrics into the
// HTTP surface.
type Handlers struct {
	selector *routing.Selector
	executor *routing.Executor
	rag      *rag.Service
	agents   *agenttask.Orchestrator
	metrics  *Metrics
	logger   *logger.Logger
}

// NewHandlers creates the gateway HTTP handlers.
func NewHandlers(selector *routing.Selector, executor *routing.Executor, ragSvc *rag.Service, agents *agenttask.Orchestrator, metrics *Metrics) *Handlers {
	return &Handlers{
		selector: selector,
		executor: executor,
		rag:      ragSvc,
		agents:   agents,
		metrics:  metrics,
		logger:   logger.New("gateway"),
	}
}

// Router builds the gateway route table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", h.healthHandler).Methods("GET")

	// Metrics endpoints
	r.HandleFunc("/metrics", h.metrics.Handler).Methods("GET") // JSON metrics
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET") // Prometheus native format

	// Inference passthrough endpoints
	r.HandleFunc("/v1/chat/completions", h.chatHandler).Methods("POST")
	r.HandleFunc("/v1/completions", h.chatHandler).Methods("POST")
	r.HandleFunc("/v1/images/generations", h.proxyHandler(routing.CapabilityImage)).Methods("POST")
	r.HandleFunc("/v1/audio/speech", h.proxyHandler(routing.CapabilityTTS)).Methods("POST")
	r.HandleFunc("/v1/audio/transcriptions", h.proxyHandler(routing.CapabilitySTT)).Methods("POST")
	r.HandleFunc("/v1/embeddings", h.proxyHandler(routing.CapabilityEmbeddings)).Methods("POST")

	// RAG endpoints
	r.HandleFunc("/v1/rag/retrieve", h.ragRetrieveHandler).Methods("POST")
	r.HandleFunc("/v1/rag/qa", h.ragQAHandler).Methods("POST")
	r.HandleFunc("/v1/rag/crawl", h.ragCrawlHandler).Methods("POST")
	r.HandleFunc("/v1/rag/add_document", h.ragAddDocumentHandler).Methods("POST")
	r.HandleFunc("/v1/rag/documents", h.ragListDocumentsHandler).Methods("GET")

	// Agent endpoints
	r.HandleFunc("/v1/agent/act", h.agentActHandler).Methods("POST")
	r.HandleFunc("/v1/agent/create", h.agentCreateHandler).Methods("POST")
	r.HandleFunc("/v1/agent/list", h.agentListHandler).Methods("GET")
	r.HandleFunc("/v1/agent/history", h.agentHistoryHandler).Methods("GET")

	return r
}

func (h *Handlers) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "controlcenter-gateway",
		"timestamp": time.Now().UTC(),
	})
}

// chatRequest is the subset of the chat payload the router needs: the
// model acts as an explicit provider override and max_tokens as a limit
// hint. The full payload is forwarded verbatim.
type chatRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

func (h *Handlers) chatHandler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	requestID := newRequestID(r)
	capability := routing.CapabilityChat

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, requestID, capability, http.StatusBadRequest, "Failed to read request body", started)
		return
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.fail(w, requestID, capability, http.StatusBadRequest, "Invalid request body", started)
		return
	}

	var hints map[string]int
	if req.MaxTokens > 0 {
		hints = map[string]int{routing.LimitMaxTokens: req.MaxTokens}
	}

	candidates, err := h.selector.Resolve(capability, req.Model, hints)
	if err != nil {
		h.routeError(w, requestID, capability, err, started)
		return
	}

	env := routing.RequestEnvelope{
		Capability:          capability,
		Payload:             body,
		RequestedProviderID: req.Model,
		LimitHints:          hints,
		RequestID:           requestID,
	}

	h.logger.Info(requestID, string(capability), "Routing request", map[string]interface{}{
		"candidates": len(candidates),
		"model":      req.Model,
		"stream":     req.Stream,
	})

	result, records, err := h.executor.Proxy(r.Context(), env, candidates, r.URL.Path, r.Header)
	if err != nil {
		h.routeError(w, requestID, capability, err, started)
		return
	}
	defer func() { _ = result.Body.Close() }()

	h.relay(w, requestID, capability, result, len(records), started)
}

// proxyHandler builds a passthrough handler for capabilities without a
// provider override or builtin floor: the body goes to each candidate
// verbatim and the winning response is relayed as-is.
func (h *Handlers) proxyHandler(capability routing.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := newRequestID(r)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			h.fail(w, requestID, capability, http.StatusBadRequest, "Failed to read request body", started)
			return
		}

		candidates, err := h.selector.Resolve(capability, "", nil)
		if err != nil {
			h.routeError(w, requestID, capability, err, started)
			return
		}

		env := routing.RequestEnvelope{
			Capability: capability,
			Payload:    body,
			RequestID:  requestID,
		}

		result, records, err := h.executor.Proxy(r.Context(), env, candidates, r.URL.Path, r.Header)
		if err != nil {
			h.routeError(w, requestID, capability, err, started)
			return
		}
		defer func() { _ = result.Body.Close() }()

		h.relay(w, requestID, capability, result, len(records), started)
	}
}

// relay streams the winning provider response to the client unbuffered.
func (h *Handlers) relay(w http.ResponseWriter, requestID string, capability routing.Capability, result *routing.RemoteResult, attempts int, started time.Time) {
	for key, values := range result.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Provider", result.ProviderID)
	w.WriteHeader(result.StatusCode)

	if _, err := io.Copy(w, result.Body); err != nil {
		// Stream already handed over; nothing to retry.
		h.logger.Warn(requestID, string(capability), "Stream relay interrupted", map[string]interface{}{
			"provider": result.ProviderID,
			"error":    err.Error(),
		})
	}

	latency := time.Since(started)
	h.metrics.RecordRequest(capability, true, false, latency)
	h.logger.InfoWithDuration(requestID, string(capability), "Request served", float64(latency.Milliseconds()), map[string]interface{}{
		"provider": result.ProviderID,
		"attempts": attempts,
	})
}

func (h *Handlers) ragRetrieveHandler(w http.ResponseWriter, r *http.Request) {
	var req rag.RetrieveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	h.dispatch(w, r, routing.CapabilityRAGRetrieve, ragRetrievePath, req, h.rag.Builtin(), nil)
}

func (h *Handlers) ragQAHandler(w http.ResponseWriter, r *http.Request) {
	var req rag.QARequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Document == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, "document and question are required")
		return
	}
	h.dispatch(w, r, routing.CapabilityRAGQA, ragQAPath, req, h.rag.Builtin(), nil)
}

func (h *Handlers) ragCrawlHandler(w http.ResponseWriter, r *http.Request) {
	var req rag.CrawlRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	h.dispatch(w, r, routing.CapabilityRAGCrawl, ragCrawlPath, req, h.rag.Builtin(), nil)
}

func (h *Handlers) ragAddDocumentHandler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	requestID := newRequestID(r)

	var req struct {
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	docID, err := h.rag.AddDocument(r.Context(), req.Content, req.Metadata)
	if err != nil {
		h.logger.ErrorWithCode(requestID, string(routing.CapabilityRAGRetrieve), "Failed to store document", http.StatusInternalServerError, err, nil)
		writeError(w, http.StatusInternalServerError, "Failed to store document")
		return
	}

	h.metrics.RecordRequest(routing.CapabilityRAGRetrieve, true, false, time.Since(started))
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "doc_id": docID})
}

func (h *Handlers) ragListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.rag.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "count": len(docs)})
}

func (h *Handlers) agentActHandler(w http.ResponseWriter, r *http.Request) {
	var req agenttask.ActRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	agent, err := h.agents.Resolve(req.Task, req.AgentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exec := agenttask.ExecuteRequest{
		Task:    req.Task,
		Context: req.Context,
		AgentID: agent.AgentID,
		AgentConfig: agenttask.AgentConfig{
			Name:         agent.Name,
			Capabilities: agent.Capabilities,
			Model:        agent.Model,
		},
	}

	h.dispatch(w, r, routing.CapabilityAgentTask, agentExecPath, exec, h.agents.Builtin(), func(ctx context.Context, provider string, result json.RawMessage) error {
		return h.agents.LogRemote(ctx, agent.AgentID, req.Task, req.Context, result, provider)
	})
}

func (h *Handlers) agentCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"name"`
		Capabilities []string `json:"capabilities"`
		Model        string   `json:"model"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || len(req.Capabilities) == 0 {
		writeError(w, http.StatusBadRequest, "name and capabilities are required")
		return
	}

	agentID := h.agents.CreateAgent(req.Name, req.Capabilities, req.Model)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "agent_id": agentID})
}

func (h *Handlers) agentListHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": h.agents.ListAgents()})
}

func (h *Handlers) agentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")

	tasks, err := h.agents.History(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch task history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "count": len(tasks)})
}

// dispatch routes an envelope request through the fallback executor and
// writes the resulting ResponseEnvelope. Exactly one envelope per request;
// builtin failures surface as a 200 with status "error" while exhaustion
// without a builtin is a 503. A non-nil onRemote is invoked after a remote
// candidate wins, before the envelope is written.
func (h *Handlers) dispatch(w http.ResponseWriter, r *http.Request, capability routing.Capability, path string, payload any, builtin routing.BuiltinHandler, onRemote func(context.Context, string, json.RawMessage) error) {
	started := time.Now()
	requestID := newRequestID(r)

	body, err := json.Marshal(payload)
	if err != nil {
		h.fail(w, requestID, capability, http.StatusBadRequest, "Invalid request body", started)
		return
	}

	candidates, err := h.selector.Resolve(capability, "", nil)
	if err != nil {
		h.routeError(w, requestID, capability, err, started)
		return
	}

	env := routing.RequestEnvelope{
		Capability: capability,
		Payload:    body,
		RequestID:  requestID,
	}

	envelope, records, err := h.executor.Dispatch(r.Context(), env, candidates, path, builtin)
	if err != nil {
		h.routeError(w, requestID, capability, err, started)
		return
	}

	fallback := envelope.Provider == routing.BuiltinProvider
	success := envelope.Status == routing.StatusSuccess

	if onRemote != nil && success && !fallback {
		if result, merr := json.Marshal(envelope.Result); merr == nil {
			if err := onRemote(r.Context(), envelope.Provider, result); err != nil {
				h.logger.Warn(requestID, string(capability), "Failed to record remote task", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	latency := time.Since(started)
	h.metrics.RecordRequest(capability, success, fallback, latency)
	h.logger.InfoWithDuration(requestID, string(capability), "Request served", float64(latency.Milliseconds()), map[string]interface{}{
		"provider": envelope.Provider,
		"attempts": len(records),
	})

	w.Header().Set("X-Request-ID", requestID)
	writeJSON(w, http.StatusOK, envelope)
}

// routeError maps routing errors onto HTTP statuses: unknown capability
// 404, unknown override 400, exhaustion 503, client cancellation nothing.
func (h *Handlers) routeError(w http.ResponseWriter, requestID string, capability routing.Capability, err error, started time.Time) {
	var unknownCap *routing.UnknownCapabilityError
	var notFound *routing.ProviderNotFoundError
	var exhausted *routing.AllProvidersExhaustedError

	switch {
	case errors.As(err, &unknownCap):
		h.fail(w, requestID, capability, http.StatusNotFound, err.Error(), started)
	case errors.As(err, &notFound):
		h.fail(w, requestID, capability, http.StatusBadRequest, err.Error(), started)
	case errors.As(err, &exhausted):
		h.logger.ErrorWithCode(requestID, string(capability), "All providers exhausted", http.StatusServiceUnavailable, err, map[string]interface{}{
			"attempts": len(exhausted.Attempts),
		})
		h.metrics.RecordRequest(capability, false, false, time.Since(started))
		writeError(w, http.StatusServiceUnavailable, "All providers unavailable.")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; no response to write.
		h.metrics.RecordRequest(capability, false, false, time.Since(started))
	default:
		h.fail(w, requestID, capability, http.StatusInternalServerError, "Internal routing error", started)
	}
}

func (h *Handlers) fail(w http.ResponseWriter, requestID string, capability routing.Capability, status int, message string, started time.Time) {
	h.logger.ErrorWithCode(requestID, string(capability), message, status, nil, nil)
	h.metrics.RecordRequest(capability, false, false, time.Since(started))
	writeError(w, status, message)
}

func newRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
