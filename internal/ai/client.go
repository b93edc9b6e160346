package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/trident-re/mailroom/internal/config"
)

var (
	// ErrAPICallFailed indicates the service returned an error payload
	ErrAPICallFailed = errors.New("ai: API call failed")
	// ErrInvalidResponse indicates a malformed response body
	ErrInvalidResponse = errors.New("ai: invalid API response")
)

const maxAttempts = 3

// Entities are the structured identifiers the service pulls out of email
// text or document text.
type Entities struct {
	Addresses   []string         `json:"addresses,omitempty"`
	MLSNumbers  []string         `json:"mls_numbers,omitempty"`
	LoanNumbers []string         `json:"loan_numbers,omitempty"`
	ClientNames []string         `json:"client_names,omitempty"`
	AgentNames  []string         `json:"agent_names,omitempty"`
	Dates       []DateOfInterest `json:"dates,omitempty"`
}

// DateOfInterest is a dated milestone found in text
type DateOfInterest struct {
	Type  string `json:"type"` // inspection, appraisal, closing, deadline
	Label string `json:"label,omitempty"`
	Date  string `json:"date"` // YYYY-MM-DD
}

// Merge folds another entity set into this one, dropping duplicates
func (e *Entities) Merge(other Entities) {
	e.Addresses = appendUnique(e.Addresses, other.Addresses)
	e.MLSNumbers = appendUnique(e.MLSNumbers, other.MLSNumbers)
	e.LoanNumbers = appendUnique(e.LoanNumbers, other.LoanNumbers)
	e.ClientNames = appendUnique(e.ClientNames, other.ClientNames)
	e.AgentNames = appendUnique(e.AgentNames, other.AgentNames)
	for _, d := range other.Dates {
		dup := false
		for _, have := range e.Dates {
			if have.Type == d.Type && have.Date == d.Date {
				dup = true
				break
			}
		}
		if !dup {
			e.Dates = append(e.Dates, d)
		}
	}
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if s != "" && !seen[s] {
			dst = append(dst, s)
			seen[s] = true
		}
	}
	return dst
}

// Classification is the service's verdict on one email
type Classification struct {
	PropertyRelated bool            `json:"is_property_related"`
	Confidence      float64         `json:"confidence"`
	Reason          string          `json:"reason"`
	Entities        Entities        `json:"entities"`
	Raw             json.RawMessage `json:"-"` // Full response body, stored for audit
}

// SuggestedTask is a follow-up the service proposes for a document
type SuggestedTask struct {
	Title   string `json:"title"`
	DueDays int    `json:"due_days,omitempty"`
}

// DocumentAnalysis is the service's read of one extracted document
type DocumentAnalysis struct {
	DocType        string          `json:"document_type"`
	Confidence     float64         `json:"confidence"`
	Entities       Entities        `json:"entities"`
	SuggestedTasks []SuggestedTask `json:"suggested_tasks,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// PageRange is one contiguous run of pages forming a logical sub-document
type PageRange struct {
	Start int `json:"start"` // 1-based, inclusive
	End   int `json:"end"`
}

// Client wraps the remote classification/extraction service. All calls
// share one Limiter and retry transient failures with exponential backoff.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	limiter    *Limiter
	httpClient *http.Client
}

func NewClient(cfg config.AIConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		limiter:  NewLimiter(cfg.CallsPerMin, time.Minute),
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

// Limiter exposes the shared limiter, mainly for tests and status reporting
func (c *Client) Limiter() *Limiter { return c.limiter }

type apiRequest struct {
	Model string `json:"model"`
	Task  string `json:"task"`
	Input any    `json:"input"`
}

type apiResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Retryable reports whether an error is transient (timeout, network,
// rate-limit) and worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// call issues one task request, waiting for a limiter slot first. The
// limiter wait is bounded by the caller's ctx.
func (c *Client) call(ctx context.Context, task string, input any) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			log.Printf("[ai] %s attempt %d/%d after %v: %v", task, attempt+1, maxAttempts, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := c.callOnce(ctx, task, input)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !Retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("ai: %s failed after %d attempts: %w", task, maxAttempts, lastErr)
}

func (c *Client) callOnce(ctx context.Context, task string, input any) (json.RawMessage, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(apiRequest{Model: c.model, Task: task, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAPICallFailed, resp.StatusCode)
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrAPICallFailed, parsed.Error)
	}
	if len(parsed.Result) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrInvalidResponse)
	}
	return parsed.Result, nil
}

type classifyInput struct {
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachment_summaries,omitempty"`
}

// Classify decides whether an email concerns a real-estate transaction and
// extracts identifiers from subject and body.
func (c *Client) Classify(ctx context.Context, subject, body string, attachmentSummaries []string) (*Classification, error) {
	result, err := c.call(ctx, "classify_email", classifyInput{
		Subject:     subject,
		Body:        body,
		Attachments: attachmentSummaries,
	})
	if err != nil {
		return nil, err
	}

	var cls Classification
	if err := json.Unmarshal(result, &cls); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	cls.Raw = result
	return &cls, nil
}

type analyzeInput struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// AnalyzeDocument infers the document type and entities of one extracted
// document.
func (c *Client) AnalyzeDocument(ctx context.Context, text, filename string) (*DocumentAnalysis, error) {
	result, err := c.call(ctx, "analyze_document", analyzeInput{Filename: filename, Text: text})
	if err != nil {
		return nil, err
	}

	var analysis DocumentAnalysis
	if err := json.Unmarshal(result, &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	analysis.Raw = result
	return &analysis, nil
}

type splitInput struct {
	Filename  string   `json:"filename"`
	PageTexts []string `json:"page_texts"`
}

type splitResult struct {
	Ranges []PageRange `json:"ranges"`
}

// ProposeSplits asks the service where a bundled PDF should be divided into
// logical sub-documents. Callers fall back to rule-based detection on error.
func (c *Client) ProposeSplits(ctx context.Context, filename string, pageTexts []string) ([]PageRange, error) {
	result, err := c.call(ctx, "propose_splits", splitInput{Filename: filename, PageTexts: pageTexts})
	if err != nil {
		return nil, err
	}

	var parsed splitResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return parsed.Ranges, nil
}
