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

package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"
)

// Default per-attempt timeout ceilings. Chat and agent tasks tolerate the
// longer inference window; everything else fails over after 30s.
const (
	defaultAttemptTimeout = 30 * time.Second
	longAttemptTimeout    = 60 * time.Second
)

// BuiltinHandler produces a best-effort local result when no remote
// provider is reachable. Implementations must be total: they must not
// block without bound and must report internal failures through the error
// return rather than panicking. The executor still recovers panics as a
// last line of defense.
type BuiltinHandler interface {
	Handle(ctx context.Context, capability Capability, payload json.RawMessage) (any, error)
}

// BuiltinFunc adapts a function to the BuiltinHandler interface.
type BuiltinFunc func(ctx context.Context, capability Capability, payload json.RawMessage) (any, error)

// Handle implements BuiltinHandler.
func (f BuiltinFunc) Handle(ctx context.Context, capability Capability, payload json.RawMessage) (any, error) {
	return f(ctx, capability, payload)
}

// RemoteResult is the winning remote response of a proxy run. The body is
// handed to the caller unbuffered; the caller owns closing it. Failure
// detection for streaming responses uses only the status line and headers,
// so a provider that dies mid-stream is not retried - the stream has
// already been handed over.
type RemoteResult struct {
	ProviderID string
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Executor walks an ordered candidate list sequentially, one attempt per
// candidate with a bounded timeout, and falls back to a builtin handler
// when the list is exhausted. Attempts are never raced; ordering is
// exactly the order produced by the Selector.
type Executor struct {
	client   *http.Client
	timeouts map[Capability]time.Duration
	logger   *log.Logger
	observer AttemptObserver
}

// AttemptObserver receives every finished attempt record, for metrics.
// It must be safe for concurrent use.
type AttemptObserver func(capability Capability, record AttemptRecord)

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithHTTPClient sets the HTTP client used for remote attempts. The
// client should not carry its own global timeout; the executor applies a
// per-attempt deadline via context.
func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *Executor) {
		e.client = client
	}
}

// WithAttemptTimeout overrides the per-attempt timeout for a capability.
func WithAttemptTimeout(capability Capability, d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeouts[capability] = d
	}
}

// WithExecutorLogger sets a custom logger.
func WithExecutorLogger(logger *log.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithAttemptObserver registers a callback invoked for every attempt.
func WithAttemptObserver(obs AttemptObserver) ExecutorOption {
	return func(e *Executor) {
		e.observer = obs
	}
}

// NewExecutor creates an executor with default timeouts.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		client: &http.Client{},
		timeouts: map[Capability]time.Duration{
			CapabilityChat:      longAttemptTimeout,
			CapabilityAgentTask: longAttemptTimeout,
		},
		logger: log.New(os.Stdout, "[EXECUTOR] ", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Executor) timeout(capability Capability) time.Duration {
	if d, ok := e.timeouts[capability]; ok {
		return d
	}
	return defaultAttemptTimeout
}

// Proxy forwards the request body verbatim to each candidate in turn and
// returns the first response with a 2xx status. The winning body is NOT
// buffered, so callers can relay token streams. On exhaustion it returns
// AllProvidersExhaustedError; proxy capabilities have no builtin floor.
func (e *Executor) Proxy(ctx context.Context, env RequestEnvelope, candidates []ProviderDescriptor, path string, header http.Header) (*RemoteResult, []AttemptRecord, error) {
	records := make([]AttemptRecord, 0, len(candidates))

	for _, candidate := range candidates {
		result, record := e.attempt(ctx, env.Capability, candidate, path, env.Payload, header)
		records = append(records, record)
		e.observe(env.Capability, record)

		if record.Outcome == OutcomeSuccess {
			return result, records, nil
		}

		e.logger.Printf("Attempt failed for request %s: %s", env.RequestID, record)

		// The inbound client went away; stop burning candidates.
		if ctx.Err() != nil {
			return nil, records, ctx.Err()
		}
	}

	return nil, records, &AllProvidersExhaustedError{Capability: env.Capability, Attempts: records}
}

// Dispatch routes an envelope request (RAG, agent task) through the
// candidate list and decodes the winner's JSON body. When every remote
// candidate fails it runs the builtin handler; a builtin failure is folded
// into an error envelope rather than propagated, so exactly one
// ResponseEnvelope is produced per request. A nil builtin yields
// AllProvidersExhaustedError on exhaustion.
func (e *Executor) Dispatch(ctx context.Context, env RequestEnvelope, candidates []ProviderDescriptor, path string, builtin BuiltinHandler) (ResponseEnvelope, []AttemptRecord, error) {
	records := make([]AttemptRecord, 0, len(candidates))

	for _, candidate := range candidates {
		result, record := e.attempt(ctx, env.Capability, candidate, path, env.Payload, nil)
		records = append(records, record)
		e.observe(env.Capability, record)

		if record.Outcome == OutcomeSuccess {
			var decoded any
			err := json.NewDecoder(result.Body).Decode(&decoded)
			_ = result.Body.Close()
			if err != nil {
				// A 2xx with an unreadable body counts as a failed
				// attempt like any other.
				records[len(records)-1].Outcome = OutcomeTransportError
				records[len(records)-1].Reason = fmt.Sprintf("decoding response: %v", err)
				e.logger.Printf("Attempt failed for request %s: %s", env.RequestID, records[len(records)-1])
				continue
			}
			return Normalize(candidate.ID, decoded), records, nil
		}

		e.logger.Printf("Attempt failed for request %s: %s", env.RequestID, record)

		if ctx.Err() != nil {
			return ResponseEnvelope{}, records, ctx.Err()
		}
	}

	if builtin == nil {
		return ResponseEnvelope{}, records, &AllProvidersExhaustedError{Capability: env.Capability, Attempts: records}
	}

	e.logger.Printf("All %d remote candidate(s) exhausted for request %s, running builtin %s handler",
		len(candidates), env.RequestID, env.Capability)

	result, err := runBuiltin(ctx, builtin, env.Capability, env.Payload)
	if err != nil {
		berr := &BuiltinHandlerError{Capability: env.Capability, Cause: err}
		e.logger.Printf("Builtin handler failed for request %s: %v", env.RequestID, berr)
		return NormalizeError(BuiltinProvider, berr), records, nil
	}

	return Normalize(BuiltinProvider, result), records, nil
}

// attempt performs a single remote call with the per-capability timeout
// and classifies the outcome. Exactly one attempt per candidate; redundancy
// lives in the candidate list, not in per-candidate retries.
func (e *Executor) attempt(ctx context.Context, capability Capability, candidate ProviderDescriptor, path string, body []byte, header http.Header) (*RemoteResult, AttemptRecord) {
	record := AttemptRecord{
		ProviderID: candidate.ID,
		StartedAt:  time.Now(),
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout(capability))

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, candidate.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		cancel()
		record.Outcome = OutcomeTransportError
		record.Reason = err.Error()
		record.Duration = time.Since(record.StartedAt)
		return nil, record
	}

	req.Header.Set("Content-Type", "application/json")
	for k, vals := range header {
		if k == "Content-Length" || k == "Host" || k == "Connection" {
			continue
		}
		req.Header[k] = vals
	}

	resp, err := e.client.Do(req)
	record.Duration = time.Since(record.StartedAt)

	if err != nil {
		cancel()
		record.Outcome = classifyTransportError(err)
		record.Reason = err.Error()
		return nil, record
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		record.Outcome = OutcomeHTTPError
		record.StatusCode = resp.StatusCode
		return nil, record
	}

	record.Outcome = OutcomeSuccess
	record.StatusCode = resp.StatusCode

	return &RemoteResult{
		ProviderID: candidate.ID,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		// The attempt context must outlive this call so the winning body
		// can stream; cancel fires when the caller closes the body.
		Body: &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, record
}

func (e *Executor) observe(capability Capability, record AttemptRecord) {
	if e.observer != nil {
		e.observer(capability, record)
	}
}

// classifyTransportError separates deadline expiry from other transport
// failures so attempt records distinguish timeout from transport_error.
func classifyTransportError(err error) AttemptOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeTransportError
}

// runBuiltin invokes the builtin handler with panic containment. The
// builtin must never leave a request unanswered, so a panic is converted
// into an ordinary error.
func runBuiltin(ctx context.Context, builtin BuiltinHandler, capability Capability, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("builtin panic: %v", r)
		}
	}()
	return builtin.Handle(ctx, capability, payload)
}

// cancelOnClose ties an attempt's context cancellation to the consumer
// closing the response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
