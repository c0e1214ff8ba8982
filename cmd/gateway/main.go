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

// Package main is the entry point for the ControlCenter Gateway service.
//
// The Gateway is a capability-routing front door that:
// - Resolves ordered provider candidate lists per capability
// - Attempts remote delivery sequentially with bounded per-attempt timeouts
// - Falls back to builtin RAG and agent-task handlers when providers fail
// - Normalizes all outcomes into a uniform response envelope
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATA_DIR - filesystem document store root (default: /app/data)
//	REDIS_URL - Redis document store backend (optional)
//	DATABASE_URL - PostgreSQL task history (optional)
//	PROVIDERS_FILE - YAML provider registry (optional)
package main

import (
	"controlcenter/gateway/gateway"
)

func main() {
	gateway.Run()
}
