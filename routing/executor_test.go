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
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func descriptor(id, endpoint string, priority int) ProviderDescriptor {
	return ProviderDescriptor{ID: id, Endpoint: endpoint, Priority: priority, Capability: CapabilityChat}
}

func TestProxyFirstCandidateWins(t *testing.T) {
	primary := jsonServer(t, http.StatusOK, `{"from":"primary"}`)
	secondary := jsonServer(t, http.StatusOK, `{"from":"secondary"}`)

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityChat, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{
		descriptor("primary", primary.URL, 1),
		descriptor("secondary", secondary.URL, 2),
	}

	result, records, err := e.Proxy(context.Background(), env, candidates, "/v1/chat/completions", nil)
	if err != nil {
		t.Fatalf("Proxy failed: %v", err)
	}
	defer func() { _ = result.Body.Close() }()

	if result.ProviderID != "primary" {
		t.Errorf("ProviderID = %q, want primary", result.ProviderID)
	}
	if len(records) != 1 {
		t.Errorf("got %d attempt records, want 1", len(records))
	}

	body, _ := io.ReadAll(result.Body)
	if string(body) != `{"from":"primary"}` {
		t.Errorf("body = %s, want primary payload", body)
	}
}

func TestProxyFallsBackToSecondary(t *testing.T) {
	primary := jsonServer(t, http.StatusInternalServerError, `{"error":"down"}`)
	secondary := jsonServer(t, http.StatusOK, `{"from":"secondary"}`)

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityChat, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{
		descriptor("primary", primary.URL, 1),
		descriptor("secondary", secondary.URL, 2),
	}

	result, records, err := e.Proxy(context.Background(), env, candidates, "/v1/chat/completions", nil)
	if err != nil {
		t.Fatalf("Proxy failed: %v", err)
	}
	defer func() { _ = result.Body.Close() }()

	if result.ProviderID != "secondary" {
		t.Errorf("ProviderID = %q, want secondary", result.ProviderID)
	}
	if len(records) != 2 {
		t.Fatalf("got %d attempt records, want 2", len(records))
	}
	if records[0].Outcome != OutcomeHTTPError || records[0].StatusCode != http.StatusInternalServerError {
		t.Errorf("records[0] = %+v, want http_error(500)", records[0])
	}
	if records[1].Outcome != OutcomeSuccess {
		t.Errorf("records[1].Outcome = %q, want success", records[1].Outcome)
	}
}

func TestProxyTimeoutOutcome(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	fast := jsonServer(t, http.StatusOK, `{"ok":true}`)

	e := NewExecutor(WithAttemptTimeout(CapabilityChat, 50*time.Millisecond))
	env := RequestEnvelope{Capability: CapabilityChat, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{
		descriptor("slow", slow.URL, 1),
		descriptor("fast", fast.URL, 2),
	}

	started := time.Now()
	result, records, err := e.Proxy(context.Background(), env, candidates, "/v1/chat/completions", nil)
	if err != nil {
		t.Fatalf("Proxy failed: %v", err)
	}
	defer func() { _ = result.Body.Close() }()

	if records[0].Outcome != OutcomeTimeout {
		t.Errorf("records[0].Outcome = %q, want timeout", records[0].Outcome)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("fallback took %v, timeout ceiling not enforced", elapsed)
	}
	if result.ProviderID != "fast" {
		t.Errorf("ProviderID = %q, want fast", result.ProviderID)
	}
}

func TestProxyExhaustion(t *testing.T) {
	down := jsonServer(t, http.StatusBadGateway, `{}`)

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityChat, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{
		descriptor("only", down.URL, 1),
	}

	_, records, err := e.Proxy(context.Background(), env, candidates, "/v1/chat/completions", nil)
	var exhausted *AllProvidersExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Proxy = %v, want AllProvidersExhaustedError", err)
	}
	if len(exhausted.Attempts) != 1 || len(records) != 1 {
		t.Errorf("attempt records = %d/%d, want 1/1", len(exhausted.Attempts), len(records))
	}
}

func TestProxyForwardsHeadersAndBody(t *testing.T) {
	var gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityChat, Payload: []byte(`{"prompt":"hi"}`), RequestID: "r1"}
	header := http.Header{}
	header.Set("Authorization", "Bearer token")
	header.Set("Content-Length", "999") // must not be forwarded

	result, _, err := e.Proxy(context.Background(), env, []ProviderDescriptor{descriptor("p", server.URL, 1)}, "/v1/chat/completions", header)
	if err != nil {
		t.Fatalf("Proxy failed: %v", err)
	}
	_ = result.Body.Close()

	if gotAuth != "Bearer token" {
		t.Errorf("Authorization = %q, want forwarded bearer", gotAuth)
	}
	if gotBody != `{"prompt":"hi"}` {
		t.Errorf("forwarded body = %q", gotBody)
	}
}

func TestDispatchRemoteSuccess(t *testing.T) {
	remote := jsonServer(t, http.StatusOK, `{"results":[1,2]}`)

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityRAGRetrieve, Payload: []byte(`{"query":"q"}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{{ID: "remote-rag", Endpoint: remote.URL, Priority: 1, Capability: CapabilityRAGRetrieve}}

	envelope, _, err := e.Dispatch(context.Background(), env, candidates, "/retrieve", nil)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if envelope.Status != StatusSuccess {
		t.Errorf("Status = %q, want success", envelope.Status)
	}
	if envelope.Provider != "remote-rag" {
		t.Errorf("Provider = %q, want remote-rag", envelope.Provider)
	}
}

func TestDispatchBuiltinFallback(t *testing.T) {
	down := jsonServer(t, http.StatusServiceUnavailable, `{}`)

	builtin := BuiltinFunc(func(ctx context.Context, capability Capability, payload json.RawMessage) (any, error) {
		return map[string]any{"answer": "local"}, nil
	})

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityRAGQA, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{{ID: "remote", Endpoint: down.URL, Priority: 1, Capability: CapabilityRAGQA}}

	envelope, records, err := e.Dispatch(context.Background(), env, candidates, "/qa", builtin)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if envelope.Provider != BuiltinProvider {
		t.Errorf("Provider = %q, want builtin", envelope.Provider)
	}
	if envelope.Status != StatusSuccess {
		t.Errorf("Status = %q, want success", envelope.Status)
	}
	if len(records) != 1 {
		t.Errorf("got %d attempt records, want 1", len(records))
	}
}

func TestDispatchBuiltinErrorEnvelope(t *testing.T) {
	down := jsonServer(t, http.StatusServiceUnavailable, `{}`)

	builtin := BuiltinFunc(func(ctx context.Context, capability Capability, payload json.RawMessage) (any, error) {
		return nil, errors.New("store unreachable")
	})

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityRAGQA, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{{ID: "remote", Endpoint: down.URL, Priority: 1, Capability: CapabilityRAGQA}}

	envelope, _, err := e.Dispatch(context.Background(), env, candidates, "/qa", builtin)
	if err != nil {
		t.Fatalf("Dispatch returned error %v, want builtin failure folded into envelope", err)
	}
	if envelope.Status != StatusError {
		t.Errorf("Status = %q, want error", envelope.Status)
	}
	if envelope.Provider != BuiltinProvider {
		t.Errorf("Provider = %q, want builtin", envelope.Provider)
	}
	if envelope.ErrorMessage == "" {
		t.Error("ErrorMessage empty, want builtin failure message")
	}
}

func TestDispatchBuiltinPanicContained(t *testing.T) {
	builtin := BuiltinFunc(func(ctx context.Context, capability Capability, payload json.RawMessage) (any, error) {
		panic("handler bug")
	})

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityAgentTask, Payload: []byte(`{}`), RequestID: "r1"}

	envelope, _, err := e.Dispatch(context.Background(), env, nil, "/execute", builtin)
	if err != nil {
		t.Fatalf("Dispatch returned error %v, want panic folded into envelope", err)
	}
	if envelope.Status != StatusError {
		t.Errorf("Status = %q, want error", envelope.Status)
	}
}

func TestProxyClientCancelStopsFallback(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(slow.Close)

	var hits int32
	next := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(next.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityChat, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{
		descriptor("slow", slow.URL, 1),
		descriptor("next", next.URL, 2),
	}

	_, records, err := e.Proxy(ctx, env, candidates, "/v1/chat/completions", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Proxy = %v, want context.Canceled", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d attempt records, want 1", len(records))
	}
	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Errorf("second candidate attempted %d times, want 0", got)
	}
}

func TestDispatchClientCancelSkipsBuiltin(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(slow.Close)

	var builtinRan int32
	builtin := BuiltinFunc(func(ctx context.Context, capability Capability, payload json.RawMessage) (any, error) {
		atomic.AddInt32(&builtinRan, 1)
		return map[string]any{"answer": "too late"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityRAGQA, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{{ID: "slow", Endpoint: slow.URL, Priority: 1, Capability: CapabilityRAGQA}}

	_, _, err := e.Dispatch(ctx, env, candidates, "/qa", builtin)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch = %v, want context.Canceled", err)
	}
	if atomic.LoadInt32(&builtinRan) != 0 {
		t.Error("builtin ran after the client went away")
	}
}

func TestDispatchNilBuiltinExhaustion(t *testing.T) {
	down := jsonServer(t, http.StatusBadGateway, `{}`)

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityEmbeddings, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{{ID: "remote", Endpoint: down.URL, Priority: 1, Capability: CapabilityEmbeddings}}

	_, _, err := e.Dispatch(context.Background(), env, candidates, "/v1/embeddings", nil)
	var exhausted *AllProvidersExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Dispatch = %v, want AllProvidersExhaustedError", err)
	}
}

func TestDispatchUndecodableBodyAdvances(t *testing.T) {
	garbage := jsonServer(t, http.StatusOK, `not json at all`)
	good := jsonServer(t, http.StatusOK, `{"ok":true}`)

	e := NewExecutor()
	env := RequestEnvelope{Capability: CapabilityRAGRetrieve, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{
		{ID: "garbage", Endpoint: garbage.URL, Priority: 1, Capability: CapabilityRAGRetrieve},
		{ID: "good", Endpoint: good.URL, Priority: 2, Capability: CapabilityRAGRetrieve},
	}

	envelope, records, err := e.Dispatch(context.Background(), env, candidates, "/retrieve", nil)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if envelope.Provider != "good" {
		t.Errorf("Provider = %q, want good", envelope.Provider)
	}
	if records[0].Outcome != OutcomeTransportError {
		t.Errorf("records[0].Outcome = %q, want transport_error after decode failure", records[0].Outcome)
	}
}

func TestAttemptObserverReceivesRecords(t *testing.T) {
	down := jsonServer(t, http.StatusInternalServerError, `{}`)
	up := jsonServer(t, http.StatusOK, `{}`)

	var seen []AttemptRecord
	e := NewExecutor(WithAttemptObserver(func(capability Capability, record AttemptRecord) {
		if capability == CapabilityChat {
			seen = append(seen, record)
		}
	}))

	env := RequestEnvelope{Capability: CapabilityChat, Payload: []byte(`{}`), RequestID: "r1"}
	candidates := []ProviderDescriptor{
		descriptor("down", down.URL, 1),
		descriptor("up", up.URL, 2),
	}

	result, _, err := e.Proxy(context.Background(), env, candidates, "/v1/chat/completions", nil)
	if err != nil {
		t.Fatalf("Proxy failed: %v", err)
	}
	_ = result.Body.Close()

	if len(seen) != 2 {
		t.Fatalf("observer saw %d records, want 2", len(seen))
	}
	if seen[0].Outcome != OutcomeHTTPError || seen[1].Outcome != OutcomeSuccess {
		t.Errorf("observer outcomes = %q, %q", seen[0].Outcome, seen[1].Outcome)
	}
}

func TestConcurrentRequestsIndependentRecords(t *testing.T) {
	okSrv := jsonServer(t, http.StatusOK, `{}`)
	failSrv := jsonServer(t, http.StatusInternalServerError, `{}`)

	e := NewExecutor()

	done := make(chan int, 2)
	go func() {
		env := RequestEnvelope{Capability: CapabilityChat, Payload: []byte(`{}`), RequestID: "ok"}
		result, records, err := e.Proxy(context.Background(), env, []ProviderDescriptor{descriptor("ok", okSrv.URL, 1)}, "/", nil)
		if err == nil {
			_ = result.Body.Close()
		}
		done <- len(records)
	}()
	go func() {
		env := RequestEnvelope{Capability: CapabilityChat, Payload: []byte(`{}`), RequestID: "fail"}
		result, records, err := e.Proxy(context.Background(), env, []ProviderDescriptor{descriptor("fail-1", failSrv.URL, 1), descriptor("fail-2", failSrv.URL, 2)}, "/", nil)
		if err == nil {
			_ = result.Body.Close()
		}
		done <- len(records)
	}()

	a, b := <-done, <-done
	if a+b != 3 {
		t.Errorf("attempt record counts %d and %d, want 1 and 2", a, b)
	}
}
