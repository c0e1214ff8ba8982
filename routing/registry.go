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
	"log"
	"os"
	"sort"
	"sync"
)

// Registry holds the capability to ordered-candidate-list mapping. It is
// populated at startup (from providers.yaml plus environment overrides)
// and read-mostly afterwards, so it is safe to share across concurrent
// requests.
type Registry struct {
	candidates map[Capability][]ProviderDescriptor
	logger     *log.Logger
	mu         sync.RWMutex
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithRegistryLogger sets a custom logger for the registry.
func WithRegistryLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty provider registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		candidates: make(map[Capability][]ProviderDescriptor),
		logger:     log.New(os.Stdout, "[REGISTRY] ", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register inserts a descriptor for its capability. It returns
// DuplicateProviderError if the (capability, id) pair is already present.
func (r *Registry) Register(capability Capability, desc ProviderDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.candidates[capability] {
		if existing.ID == desc.ID {
			return &DuplicateProviderError{Capability: capability, ProviderID: desc.ID}
		}
	}

	desc.Capability = capability
	r.candidates[capability] = append(r.candidates[capability], desc)

	// Keep candidates sorted ascending by priority; registration order
	// breaks ties so config file order is preserved.
	sort.SliceStable(r.candidates[capability], func(i, j int) bool {
		return r.candidates[capability][i].Priority < r.candidates[capability][j].Priority
	})

	r.logger.Printf("Registered provider %s for capability %s (priority %d, endpoint %s)",
		desc.ID, capability, desc.Priority, desc.Endpoint)
	return nil
}

// Candidates returns the candidates for a capability sorted ascending by
// priority. It returns UnknownCapabilityError if the capability was never
// registered. The returned slice is a copy.
func (r *Registry) Candidates(capability Capability) ([]ProviderDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.candidates[capability]
	if !ok {
		return nil, &UnknownCapabilityError{Capability: capability}
	}

	out := make([]ProviderDescriptor, len(list))
	copy(out, list)
	return out, nil
}

// Has reports whether a capability has at least one registered candidate.
func (r *Registry) Has(capability Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.candidates[capability]
	return ok
}

// Capabilities returns the sorted list of registered capabilities.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]Capability, 0, len(r.candidates))
	for c := range r.candidates {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Count returns the total number of registered descriptors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.candidates {
		n += len(list)
	}
	return n
}
