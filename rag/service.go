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

// Package rag implements the builtin retrieval-augmented-generation
// fallback: a local document corpus with linear-scan text retrieval, a
// single-fetch crawl, and a stub question-answering path. It is invoked
// by the routing executor only after every remote RAG provider has
// failed.
package rag

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultTopK     = 5
	previewLen      = 500
	listPreviewLen  = 200
	maxCrawlBody    = 8 << 20 // 8 MiB cap on fetched pages
	crawlTimeout    = 30 * time.Second
)

// SearchResult is one scored retrieval hit.
type SearchResult struct {
	DocID     string    `json:"doc_id"`
	URL       string    `json:"url,omitempty"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// DocumentSummary is the shape returned by document listing.
type DocumentSummary struct {
	DocID          string    `json:"doc_id"`
	URL            string    `json:"url,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ContentPreview string    `json:"content_preview"`
}

// Service is the builtin RAG implementation over a DocumentStore.
type Service struct {
	store  DocumentStore
	client *http.Client
	logger *log.Logger
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithCrawlClient sets the HTTP client used by the crawl fallback.
func WithCrawlClient(client *http.Client) ServiceOption {
	return func(s *Service) {
		s.client = client
	}
}

// WithServiceLogger sets a custom logger.
func WithServiceLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates the builtin RAG service.
func NewService(store DocumentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		client: &http.Client{Timeout: crawlTimeout},
		logger: log.New(os.Stdout, "[RAG] ", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Retrieve performs a linear scan over the stored documents with a
// case-insensitive substring match. Each matching document is scored as
// occurrence count divided by the document's total word count; results
// are sorted descending by score and truncated to topK. Ties keep the
// store's enumeration order, so retrieval over an unchanged corpus is
// idempotent.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan document store: %w", err)
	}

	queryLower := strings.ToLower(query)
	results := make([]SearchResult, 0)

	for _, doc := range docs {
		contentLower := strings.ToLower(doc.Content)
		if queryLower == "" || !strings.Contains(contentLower, queryLower) {
			continue
		}

		words := len(strings.Fields(doc.Content))
		if words == 0 {
			continue
		}

		results = append(results, SearchResult{
			DocID:     doc.DocID,
			URL:       doc.URL,
			Content:   preview(doc.Content, previewLen),
			Score:     float64(strings.Count(contentLower, queryLower)) / float64(words),
			Timestamp: doc.Timestamp,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Crawl is the builtin crawl fallback: a single HTTP GET of the URL, no
// recursive depth traversal. The raw response body is stored keyed by the
// MD5 of the URL and the document id is returned.
func (s *Service) Crawl(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid crawl url %q: %w", url, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch of %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCrawlBody))
	if err != nil {
		return "", fmt.Errorf("failed to read body of %s: %w", url, err)
	}

	docID := hashKey(url)
	doc := Document{
		DocID:     docID,
		URL:       url,
		Content:   string(body),
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, doc); err != nil {
		return "", err
	}

	s.logger.Printf("Crawled %s into document %s (%d bytes)", url, docID, len(body))
	return docID, nil
}

// AddDocument stores a document keyed by the MD5 of its content and
// returns the document id. Re-adding identical content is a no-op
// overwrite of the same key.
func (s *Service) AddDocument(ctx context.Context, content string, metadata map[string]any) (string, error) {
	docID := hashKey(content)
	doc := Document{
		DocID:     docID,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, doc); err != nil {
		return "", err
	}
	return docID, nil
}

// ListDocuments returns summaries of all stored documents.
func (s *Service) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]DocumentSummary, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, DocumentSummary{
			DocID:          doc.DocID,
			URL:            doc.URL,
			Timestamp:      doc.Timestamp,
			ContentPreview: preview(doc.Content, listPreviewLen),
		})
	}
	return summaries, nil
}

// QA is the builtin question-answering stub. Without a local model it
// returns a deterministic placeholder that names the question, so callers
// still receive a well-formed degraded answer.
func (s *Service) QA(_ context.Context, _, question, _ string) string {
	return fmt.Sprintf("Based on the document, regarding %q: no local model is configured; answer unavailable offline.", question)
}

func hashKey(input string) string {
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

func preview(content string, n int) string {
	if len(content) <= n {
		return content
	}
	return content[:n] + "..."
}
