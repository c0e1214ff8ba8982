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
	"errors"
	"testing"
)

func chatRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	providers := []ProviderDescriptor{
		{ID: "llama-3-8b", Priority: 1, Limits: map[string]int{LimitMaxTokens: 4096}},
		{ID: "mistral-7b", Priority: 2, Limits: map[string]int{LimitMaxTokens: 4096}},
		{ID: "intelligence-io", Priority: 3, Limits: map[string]int{LimitMaxTokens: 8192}},
	}
	for _, p := range providers {
		if err := r.Register(CapabilityChat, p); err != nil {
			t.Fatalf("Register(%s) failed: %v", p.ID, err)
		}
	}
	return r
}

func ids(candidates []ProviderDescriptor) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.ID
	}
	return out
}

func TestResolveDefaultOrder(t *testing.T) {
	s := NewSelector(chatRegistry(t))

	candidates, err := s.Resolve(CapabilityChat, "", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []string{"llama-3-8b", "mistral-7b", "intelligence-io"}
	got := ids(candidates)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidates[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveOverrideMovesToFront(t *testing.T) {
	s := NewSelector(chatRegistry(t))

	candidates, err := s.Resolve(CapabilityChat, "mistral-7b", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	got := ids(candidates)
	want := []string{"mistral-7b", "llama-3-8b", "intelligence-io"}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3 (override must not exclude fallbacks)", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidates[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveOverrideNotFound(t *testing.T) {
	s := NewSelector(chatRegistry(t))

	_, err := s.Resolve(CapabilityChat, "no-such-model", nil)
	var notFound *ProviderNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Resolve = %v, want ProviderNotFoundError", err)
	}
	if notFound.ProviderID != "no-such-model" {
		t.Errorf("ProviderID = %q, want %q", notFound.ProviderID, "no-such-model")
	}
}

func TestResolveHintsFilter(t *testing.T) {
	s := NewSelector(chatRegistry(t))

	candidates, err := s.Resolve(CapabilityChat, "", map[string]int{LimitMaxTokens: 8000})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	got := ids(candidates)
	if len(got) != 1 || got[0] != "intelligence-io" {
		t.Errorf("candidates = %v, want [intelligence-io]", got)
	}
}

func TestResolveHintsDegradeWhenUnsatisfiable(t *testing.T) {
	s := NewSelector(chatRegistry(t))

	candidates, err := s.Resolve(CapabilityChat, "", map[string]int{LimitMaxTokens: 100000})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// No candidate satisfies the hint; full priority order is used.
	if len(candidates) != 3 {
		t.Errorf("got %d candidates, want 3 (graceful degrade)", len(candidates))
	}
	if candidates[0].ID != "llama-3-8b" {
		t.Errorf("candidates[0] = %q, want llama-3-8b", candidates[0].ID)
	}
}

func TestResolveUnknownCapability(t *testing.T) {
	s := NewSelector(chatRegistry(t))

	_, err := s.Resolve(CapabilityEmbeddings, "", nil)
	var unknownErr *UnknownCapabilityError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("Resolve = %v, want UnknownCapabilityError", err)
	}
}
