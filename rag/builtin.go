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

package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"controlcenter/gateway/routing"
)

// RetrieveRequest is the payload for rag_retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// QARequest is the payload for rag_qa.
type QARequest struct {
	Document string `json:"document"`
	Question string `json:"question"`
	Context  string `json:"context"`
}

// CrawlRequest is the payload for rag_crawl. Depth is accepted for
// provider compatibility; the builtin fallback fetches a single page.
type CrawlRequest struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// Builtin returns the routing fallback handler for the RAG capabilities.
func (s *Service) Builtin() routing.BuiltinHandler {
	return routing.BuiltinFunc(func(ctx context.Context, capability routing.Capability, payload json.RawMessage) (any, error) {
		switch capability {
		case routing.CapabilityRAGRetrieve:
			var req RetrieveRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("invalid retrieve payload: %w", err)
			}
			results, err := s.Retrieve(ctx, req.Query, req.TopK)
			if err != nil {
				return nil, err
			}
			return map[string]any{"results": results, "count": len(results)}, nil

		case routing.CapabilityRAGQA:
			var req QARequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("invalid qa payload: %w", err)
			}
			return map[string]any{"answer": s.QA(ctx, req.Document, req.Question, req.Context)}, nil

		case routing.CapabilityRAGCrawl:
			var req CrawlRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("invalid crawl payload: %w", err)
			}
			docID, err := s.Crawl(ctx, req.URL)
			if err != nil {
				return nil, err
			}
			return map[string]any{"doc_id": docID, "url": req.URL, "pages_crawled": 1}, nil

		default:
			return nil, fmt.Errorf("capability %s has no builtin handler", capability)
		}
	})
}
