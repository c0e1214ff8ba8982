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

// Selector resolves the concrete attempt order for one request from the
// registry's candidate table.
type Selector struct {
	registry *Registry
}

// NewSelector creates a selector over the given registry.
func NewSelector(registry *Registry) *Selector {
	return &Selector{registry: registry}
}

// Resolve returns the ordered candidate list for a request.
//
// If overrideID is set, the named provider is moved to the front of the
// list; the remaining candidates keep their priority order and still serve
// as fallback if the explicit choice fails. An override naming an unknown
// provider returns ProviderNotFoundError rather than being silently
// downgraded to automatic selection.
//
// Without an override, candidates are filtered to those whose declared
// limits satisfy the hints, preserving priority order. If no candidate
// satisfies the hints the unfiltered list is used, degrading gracefully
// rather than failing.
//
// The result is never empty for a known capability.
func (s *Selector) Resolve(capability Capability, overrideID string, hints map[string]int) ([]ProviderDescriptor, error) {
	candidates, err := s.registry.Candidates(capability)
	if err != nil {
		return nil, err
	}

	if overrideID != "" {
		idx := -1
		for i, d := range candidates {
			if d.ID == overrideID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &ProviderNotFoundError{Capability: capability, ProviderID: overrideID}
		}

		ordered := make([]ProviderDescriptor, 0, len(candidates))
		ordered = append(ordered, candidates[idx])
		ordered = append(ordered, candidates[:idx]...)
		ordered = append(ordered, candidates[idx+1:]...)
		return ordered, nil
	}

	if len(hints) == 0 {
		return candidates, nil
	}

	filtered := make([]ProviderDescriptor, 0, len(candidates))
	for _, d := range candidates {
		if d.SatisfiesHints(hints) {
			filtered = append(filtered, d)
		}
	}
	if len(filtered) == 0 {
		return candidates, nil
	}
	return filtered, nil
}
