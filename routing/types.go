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

// Package routing implements the provider-fallback dispatch core of the
// gateway: a capability-keyed provider registry, a selector that resolves
// the attempt order for one request, and an executor that walks the
// candidate list sequentially with bounded per-attempt timeouts, falling
// back to a capability-specific builtin handler when every remote
// candidate fails.
package routing

import (
	"encoding/json"
	"fmt"
	"time"
)

// Capability identifies a named category of request. It determines which
// provider candidate list and which builtin handler apply.
type Capability string

// Capabilities routed by the gateway.
const (
	CapabilityChat        Capability = "chat"
	CapabilityImage       Capability = "image"
	CapabilityTTS         Capability = "tts"
	CapabilitySTT         Capability = "stt"
	CapabilityEmbeddings  Capability = "embeddings"
	CapabilityRAGRetrieve Capability = "rag_retrieve"
	CapabilityRAGQA       Capability = "rag_qa"
	CapabilityRAGCrawl    Capability = "rag_crawl"
	CapabilityAgentTask   Capability = "agent_task"
)

// Limit names recognized in ProviderDescriptor.Limits and in request hints.
const (
	LimitMaxTokens = "max_tokens"
)

// ProviderDescriptor describes one remote provider candidate for a
// capability. Descriptors are immutable after registry load and are owned
// exclusively by the Registry; callers receive copies.
type ProviderDescriptor struct {
	// ID is unique within a capability (e.g. "llama-3-8b", "perplexica").
	ID string `json:"id" yaml:"id"`

	// Endpoint is the provider base URL. Request paths are appended to it.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Priority orders candidates; lower values are tried first.
	Priority int `json:"priority" yaml:"priority"`

	// Capability this descriptor serves.
	Capability Capability `json:"capability" yaml:"capability"`

	// Limits holds named capability limits, e.g. max_tokens.
	Limits map[string]int `json:"limits,omitempty" yaml:"limits,omitempty"`
}

// SatisfiesHints reports whether every hinted limit is within this
// descriptor's declared limits. A limit the descriptor does not declare is
// treated as unbounded.
func (d ProviderDescriptor) SatisfiesHints(hints map[string]int) bool {
	for name, want := range hints {
		if declared, ok := d.Limits[name]; ok && want > declared {
			return false
		}
	}
	return true
}

// RequestEnvelope carries one inbound request through the routing core.
// The payload is opaque to the router; each HTTP handler decodes it once
// at the boundary into its capability-specific shape.
type RequestEnvelope struct {
	Capability Capability      `json:"capability"`
	Payload    json.RawMessage `json:"payload"`

	// RequestedProviderID is the explicit provider override, if any.
	RequestedProviderID string `json:"requested_provider_id,omitempty"`

	// LimitHints are the caller's desired limits (e.g. max_tokens).
	LimitHints map[string]int `json:"limit_hints,omitempty"`

	// RequestID is used for logging and attempt correlation.
	RequestID string `json:"request_id,omitempty"`
}

// AttemptOutcome classifies the result of one remote attempt.
type AttemptOutcome string

const (
	// OutcomeSuccess means the candidate returned a 2xx within the deadline.
	OutcomeSuccess AttemptOutcome = "success"

	// OutcomeHTTPError means the candidate responded with a non-2xx status.
	OutcomeHTTPError AttemptOutcome = "http_error"

	// OutcomeTransportError means the candidate could not be reached.
	OutcomeTransportError AttemptOutcome = "transport_error"

	// OutcomeTimeout means the per-attempt deadline elapsed.
	OutcomeTimeout AttemptOutcome = "timeout"
)

// AttemptRecord captures one remote attempt for diagnostics. Records are
// produced per request and never shared across requests.
type AttemptRecord struct {
	ProviderID string         `json:"provider_id"`
	StartedAt  time.Time      `json:"started_at"`
	Outcome    AttemptOutcome `json:"outcome"`
	StatusCode int            `json:"status_code,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

func (a AttemptRecord) String() string {
	switch a.Outcome {
	case OutcomeHTTPError:
		return fmt.Sprintf("%s: http_error(%d) in %v", a.ProviderID, a.StatusCode, a.Duration)
	case OutcomeTransportError:
		return fmt.Sprintf("%s: transport_error(%s) in %v", a.ProviderID, a.Reason, a.Duration)
	default:
		return fmt.Sprintf("%s: %s in %v", a.ProviderID, a.Outcome, a.Duration)
	}
}

// ResponseStatus is the terminal status of a routed request.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
)

// BuiltinProvider is the provider label used when the local builtin
// handler produced the response.
const BuiltinProvider = "builtin"

// ResponseEnvelope is the uniform wrapper returned to callers for
// non-streaming capabilities. Exactly one envelope is produced per
// RequestEnvelope; it is immutable once constructed.
type ResponseEnvelope struct {
	Status       ResponseStatus `json:"status"`
	Provider     string         `json:"provider"`
	Result       any            `json:"result,omitempty"`
	ErrorMessage string         `json:"message,omitempty"`
}
