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
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegistryConfig is the on-disk shape of providers.yaml.
type RegistryConfig struct {
	Providers []ProviderDescriptor `yaml:"providers"`
}

// Environment variables that override provider base URLs per capability,
// with the matching comma-separated fallback lists. An absent fallback
// variable yields an empty fallback list, not an error.
var capabilityEnv = map[Capability]struct {
	urlVar      string
	fallbackVar string
	defaultURL  string
}{
	CapabilityChat:        {"VLLM_URL", "VLLM_FALLBACK_URLS", "http://vllm:8000"},
	CapabilityImage:       {"SD_URL", "SD_FALLBACK_URLS", "http://stable-diffusion:5000"},
	CapabilityTTS:         {"TTS_URL", "TTS_FALLBACK_URLS", "http://tts:5002"},
	CapabilitySTT:         {"STT_URL", "STT_FALLBACK_URLS", "http://stt:5003"},
	CapabilityEmbeddings:  {"EMBED_URL", "EMBED_FALLBACK_URLS", "http://embeddings:5004"},
	CapabilityRAGRetrieve: {"RAG_URL", "RAG_FALLBACK_URLS", "http://mcp-crawl4ai-rag:8001"},
	CapabilityRAGQA:       {"RAG_URL", "RAG_FALLBACK_URLS", "http://mcp-crawl4ai-rag:8001"},
	CapabilityRAGCrawl:    {"RAG_URL", "RAG_FALLBACK_URLS", "http://mcp-crawl4ai-rag:8001"},
	CapabilityAgentTask:   {"AGENT_ZERO_URL", "AGENT_FALLBACK_URLS", "http://agent-zero:8003"},
}

// LoadRegistry builds the registry from an optional providers.yaml file.
// If path is empty or the file does not exist, the built-in default table
// is used. In both cases per-capability URL environment overrides and
// fallback URL lists are applied afterwards.
func LoadRegistry(path string, opts ...RegistryOption) (*Registry, error) {
	r := NewRegistry(opts...)

	loaded := false
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			var cfg RegistryConfig
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			for _, desc := range cfg.Providers {
				if desc.Capability == "" {
					return nil, fmt.Errorf("provider %q in %s has no capability", desc.ID, path)
				}
				if err := r.Register(desc.Capability, desc); err != nil {
					return nil, err
				}
			}
			loaded = true
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if !loaded {
		if err := registerDefaults(r); err != nil {
			return nil, err
		}
	}

	if err := applyEnvFallbacks(r); err != nil {
		return nil, err
	}

	return r, nil
}

// registerDefaults installs the static provider table used when no
// providers.yaml is present. Model ids and priorities mirror the service
// defaults the gateway ships with.
func registerDefaults(r *Registry) error {
	vllm := envOr("VLLM_URL", capabilityEnv[CapabilityChat].defaultURL)

	defaults := []ProviderDescriptor{
		{ID: "llama-3-8b", Capability: CapabilityChat, Endpoint: vllm, Priority: 1,
			Limits: map[string]int{LimitMaxTokens: 4096}},
		{ID: "mistral-7b", Capability: CapabilityChat, Endpoint: vllm, Priority: 2,
			Limits: map[string]int{LimitMaxTokens: 4096}},
		{ID: "intelligence-io", Capability: CapabilityChat, Priority: 3,
			Endpoint: "https://api.intelligence.io.solutions/api/v1",
			Limits:   map[string]int{LimitMaxTokens: 8192}},

		{ID: "sdxl", Capability: CapabilityImage, Priority: 1,
			Endpoint: envOr("SD_URL", capabilityEnv[CapabilityImage].defaultURL)},
		{ID: "hf-sdxl", Capability: CapabilityImage, Priority: 2,
			Endpoint: "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0"},

		{ID: "coqui", Capability: CapabilityTTS, Priority: 1,
			Endpoint: envOr("TTS_URL", capabilityEnv[CapabilityTTS].defaultURL)},
		{ID: "whisper", Capability: CapabilitySTT, Priority: 1,
			Endpoint: envOr("STT_URL", capabilityEnv[CapabilitySTT].defaultURL)},
		{ID: "bge-base", Capability: CapabilityEmbeddings, Priority: 1,
			Endpoint: envOr("EMBED_URL", capabilityEnv[CapabilityEmbeddings].defaultURL)},
	}

	ragURL := envOr("RAG_URL", capabilityEnv[CapabilityRAGRetrieve].defaultURL)
	perplexicaURL := envOr("PERPLEXICA_URL", "http://perplexica:8002")
	for _, c := range []Capability{CapabilityRAGRetrieve, CapabilityRAGQA, CapabilityRAGCrawl} {
		defaults = append(defaults,
			ProviderDescriptor{ID: "mcp-crawl4ai", Capability: c, Endpoint: ragURL, Priority: 1},
			ProviderDescriptor{ID: "perplexica", Capability: c, Endpoint: perplexicaURL, Priority: 2},
		)
	}

	defaults = append(defaults,
		ProviderDescriptor{ID: "agent-zero", Capability: CapabilityAgentTask, Priority: 1,
			Endpoint: envOr("AGENT_ZERO_URL", capabilityEnv[CapabilityAgentTask].defaultURL)},
		ProviderDescriptor{ID: "autogen", Capability: CapabilityAgentTask, Priority: 2,
			Endpoint: envOr("AUTOGEN_URL", "http://autogen:8004")},
	)

	for _, desc := range defaults {
		if err := r.Register(desc.Capability, desc); err != nil {
			return err
		}
	}
	return nil
}

// applyEnvFallbacks appends extra candidates from the comma-separated
// *_FALLBACK_URLS variables, after any configured providers.
func applyEnvFallbacks(r *Registry) error {
	for capability, env := range capabilityEnv {
		raw := os.Getenv(env.fallbackVar)
		if raw == "" {
			continue
		}

		maxPriority := 0
		if existing, err := r.Candidates(capability); err == nil {
			for _, d := range existing {
				if d.Priority > maxPriority {
					maxPriority = d.Priority
				}
			}
		}

		for i, u := range strings.Split(raw, ",") {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			desc := ProviderDescriptor{
				ID:       fmt.Sprintf("%s-fallback-%d", capability, i+1),
				Endpoint: u,
				Priority: maxPriority + i + 1,
			}
			if err := r.Register(capability, desc); err != nil {
				return err
			}
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
