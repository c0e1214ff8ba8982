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

package gateway

import "os"

// Config holds gateway process configuration, read from the environment.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// DataDir is the filesystem root for the RAG document store when
	// Redis is not configured.
	DataDir string

	// RedisURL enables the Redis document store backend when set.
	RedisURL string

	// DatabaseURL enables PostgreSQL task history when set.
	DatabaseURL string

	// ProvidersFile is an optional YAML provider registry; when absent
	// the built-in defaults plus env overrides apply.
	ProvidersFile string
}

// LoadConfig reads gateway configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:          getEnv("PORT", "8080"),
		DataDir:       getEnv("DATA_DIR", "/app/data"),
		RedisURL:      os.Getenv("REDIS_URL"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ProvidersFile: os.Getenv("PROVIDERS_FILE"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
