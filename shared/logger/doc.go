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

/*
Package logger provides structured JSON logging for gateway components.

# Overview

The logger outputs one JSON line per entry to stdout, making logs easily
consumable by Docker log drivers and any log aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, routing, rag, agenttask)
  - Container name (for correlating replicas)
  - Request ID (for request correlation)
  - Capability (chat, image, rag_retrieve, ...)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("gateway")

Log messages with request context:

	log.Info("req-456", "chat", "Dispatching request", map[string]interface{}{
	    "candidates": 3,
	})

Log errors with the status code returned to the caller:

	log.ErrorWithCode("req-456", "chat", "All providers unavailable", 503, err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("req-456", "chat", "Request completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
