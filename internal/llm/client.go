// Package llm implements the bulk classification call: a single HTTP
// request per batch against an OpenRouter-compatible chat-completions
// endpoint, speaking the compact line protocol defined in
// internal/classification.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/chatsignal/internal/classification"
	"github.com/nextlevelbuilder/chatsignal/internal/providers"
)

// ErrorKind enumerates the failure modes a caller must branch on — in
// particular, http_error with a 4xx/5xx status is the only case that
// triggers a bus requeue rather than a synthetic-classification fallback.
type ErrorKind string

const (
	ErrMissingAPIKey ErrorKind = "missing_api_key"
	ErrEmptyBatch    ErrorKind = "empty_batch"
	ErrBatchTooLarge ErrorKind = "batch_too_large"
	ErrInvalidFormat ErrorKind = "invalid_format"
	ErrEmptyResponse ErrorKind = "empty_response"
	ErrNoContent     ErrorKind = "no_content"
	ErrParseError    ErrorKind = "parse_error"
	ErrTimeout       ErrorKind = "timeout"
	ErrHTTPError     ErrorKind = "http_error"
	ErrRequestError  ErrorKind = "request_error"
	ErrUnexpected    ErrorKind = "unexpected_error"
)

// Item is one opaque-id/text pair submitted for classification.
type Item struct {
	ID   string
	Text string
}

// Usage mirrors the token accounting an OpenAI-compatible response reports.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of one classify call. Exactly one of the ok=true
// fields or the ok=false fields is meaningful.
type Result struct {
	OK bool

	Classified  []classification.ClassifiedMessage
	ParseErrors []classification.ParseError
	Usage       Usage
	Raw         string

	ErrorKind ErrorKind
	Status    int
	Body      string
	Message   string
}

// Client speaks the chat-completions protocol against an
// OpenRouter-compatible endpoint.
type Client struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
	model      string
	maxBatch   int
	limiter    *rate.Limiter
	encoder    *tiktoken.Tiktoken
}

func New(apiBase, apiKey, model string, maxBatch int) *Client {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    strings.TrimRight(apiBase, "/"),
		apiKey:     apiKey,
		model:      model,
		maxBatch:   maxBatch,
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		encoder:    enc,
	}
}

// estimateMaxTokens sizes the completion budget off the batch's actual input
// length instead of a flat per-line constant, falling back to the flat
// estimate when the encoder is unavailable.
func (c *Client) estimateMaxTokens(batch []Item) int {
	base := len(batch) * 50
	if c.encoder == nil {
		return base
	}
	total := 0
	for _, item := range batch {
		total += len(c.encoder.Encode(item.Text, nil, nil))
	}
	estimated := total/2 + len(batch)*20
	if estimated > base {
		return estimated
	}
	return base
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Classify renumbers batch items to "1".."N" to minimize output tokens,
// sends one POST, and parses the response line by line, remapping ids back
// to the caller's originals. A line that fails to parse is captured per-id
// and does not fail the batch. The batch fails as a whole on
// transport-level problems (timeout, non-2xx, empty/malformed response
// body), on a response with no compact lines, and on any response id that
// was not part of the batch.
func (c *Client) Classify(ctx context.Context, batch []Item) Result {
	if c.apiKey == "" {
		return Result{ErrorKind: ErrMissingAPIKey, Message: "no LLM API key configured"}
	}
	if len(batch) == 0 {
		return Result{ErrorKind: ErrEmptyBatch, Message: "classify called with an empty batch"}
	}
	if len(batch) > c.maxBatch {
		return Result{ErrorKind: ErrBatchTooLarge, Message: fmt.Sprintf("batch of %d exceeds max %d", len(batch), c.maxBatch)}
	}

	remap := make(map[string]string, len(batch))
	var userLines strings.Builder
	for i, item := range batch {
		renumbered := strconv.Itoa(i + 1)
		remap[renumbered] = item.ID
		userLines.WriteString(renumbered)
		userLines.WriteString(": ")
		userLines.WriteString(strings.ReplaceAll(item.Text, "\n", " "))
		userLines.WriteString("\n")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: classification.SystemPrompt},
			{Role: "user", Content: userLines.String()},
		},
		MaxTokens:   c.estimateMaxTokens(batch),
		Temperature: 0.1,
	}

	result, err := providers.RetryDo(ctx, providers.DefaultRetryConfig(), func() (Result, error) {
		return c.doRequest(ctx, reqBody, remap)
	})
	if err != nil {
		return errResultFromTransport(err)
	}
	return result
}

func (c *Client) doRequest(ctx context.Context, reqBody chatRequest, remap map[string]string) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{ErrorKind: ErrUnexpected, Message: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{ErrorKind: ErrRequestError, Message: err.Error()}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failure: let RetryDo decide whether it's retryable.
		return Result{}, err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &providers.HTTPError{
			Status:     resp.StatusCode,
			Body:       truncate(string(bodyBytes), 500),
			RetryAfter: providers.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if providers.IsRetryableError(httpErr) {
			return Result{}, httpErr
		}
		return Result{ErrorKind: ErrHTTPError, Status: resp.StatusCode, Body: truncate(string(bodyBytes), 500), Message: httpErr.Error()}, nil
	}

	if len(bodyBytes) == 0 {
		return Result{ErrorKind: ErrEmptyResponse, Message: "empty response body"}, nil
	}

	var parsed chatResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return Result{ErrorKind: ErrInvalidFormat, Message: err.Error(), Body: truncate(string(bodyBytes), 500)}, nil
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return Result{ErrorKind: ErrNoContent, Message: "response had no choices/content"}, nil
	}

	raw := parsed.Choices[0].Message.Content
	classified, parseErrs, err := classification.ParseBatchPartial(raw)
	if err != nil {
		return Result{ErrorKind: ErrParseError, Message: err.Error(), Raw: raw}, nil
	}

	remapped := make([]classification.ClassifiedMessage, 0, len(classified))
	var remapErrs []classification.ParseError
	for _, m := range classified {
		original, ok := remap[m.ID]
		if !ok {
			// An id the batch never sent fails the whole batch.
			return Result{ErrorKind: ErrParseError, Message: fmt.Sprintf("response id %q not present in batch remap table", m.ID), Raw: raw}, nil
		}
		m.ID = original
		remapped = append(remapped, m)
	}
	for _, pe := range parseErrs {
		if original, ok := remap[pe.ID]; ok {
			pe.ID = original
		}
		remapErrs = append(remapErrs, pe)
	}

	return Result{
		OK:          true,
		Classified:  remapped,
		ParseErrors: remapErrs,
		Usage:       parsed.Usage,
		Raw:         raw,
	}, nil
}

func errResultFromTransport(err error) Result {
	var httpErr *providers.HTTPError
	if ok := asHTTPError(err, &httpErr); ok {
		return Result{ErrorKind: ErrHTTPError, Status: httpErr.Status, Body: httpErr.Body, Message: err.Error()}
	}
	if err == context.DeadlineExceeded {
		return Result{ErrorKind: ErrTimeout, Message: err.Error()}
	}
	return Result{ErrorKind: ErrRequestError, Message: err.Error()}
}

func asHTTPError(err error, target **providers.HTTPError) bool {
	he, ok := err.(*providers.HTTPError)
	if ok {
		*target = he
	}
	return ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
