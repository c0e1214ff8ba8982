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

import "fmt"

// UnknownCapabilityError is returned when a request names a capability
// with no registered candidates. Always fatal for the request.
type UnknownCapabilityError struct {
	Capability Capability
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.Capability)
}

// DuplicateProviderError is returned when a (capability, provider id) pair
// is registered twice.
type DuplicateProviderError struct {
	Capability Capability
	ProviderID string
}

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("provider %q already registered for capability %q", e.ProviderID, e.Capability)
}

// ProviderNotFoundError is returned when an explicit provider override
// names an id that does not exist for the capability. The request is never
// silently downgraded to automatic selection.
type ProviderNotFoundError struct {
	Capability Capability
	ProviderID string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider %q not found for capability %q", e.ProviderID, e.Capability)
}

// AllProvidersExhaustedError is returned when every remote candidate
// failed and the capability has no builtin handler.
type AllProvidersExhaustedError struct {
	Capability Capability
	Attempts   []AttemptRecord
}

func (e *AllProvidersExhaustedError) Error() string {
	return fmt.Sprintf("all %d provider(s) unavailable for capability %q", len(e.Attempts), e.Capability)
}

// BuiltinHandlerError wraps a failure inside a builtin handler. It is
// captured by the executor and folded into an error envelope rather than
// surfaced as a server error.
type BuiltinHandlerError struct {
	Capability Capability
	Cause      error
}

func (e *BuiltinHandlerError) Error() string {
	return fmt.Sprintf("builtin handler for capability %q failed: %v", e.Capability, e.Cause)
}

// Unwrap returns the underlying error.
func (e *BuiltinHandlerError) Unwrap() error {
	return e.Cause
}
