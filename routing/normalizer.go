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

// Normalize wraps a successful outcome into the uniform response
// envelope, preserving the provider label ("builtin" or a provider id)
// for observability. Pure function.
func Normalize(provider string, result any) ResponseEnvelope {
	return ResponseEnvelope{
		Status:   StatusSuccess,
		Provider: provider,
		Result:   result,
	}
}

// NormalizeError wraps a failed outcome into an error envelope. Pure
// function.
func NormalizeError(provider string, err error) ResponseEnvelope {
	return ResponseEnvelope{
		Status:       StatusError,
		Provider:     provider,
		ErrorMessage: err.Error(),
	}
}
