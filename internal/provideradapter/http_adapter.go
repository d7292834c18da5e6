// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
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

package provideradapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/etalazz/llmrouter/internal/registry"
	"github.com/etalazz/llmrouter/internal/routererr"
)

// upstreamChatBody is the wire shape HTTPAdapter sends to and parses from
// the upstream — OpenAI-compatible chat-completions, the lowest common
// denominator among the http-backed providers this router fronts.
type upstreamChatBody struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type upstreamUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type upstreamChoice struct {
	Message ChatMessage `json:"message"`
	Delta   ChatMessage `json:"delta"`
}

type upstreamResponse struct {
	Choices []upstreamChoice `json:"choices"`
	Usage   *upstreamUsage   `json:"usage"`
}

// HTTPAdapter sends requests to an HTTP-backed upstream provider (spec.md
// §4.4). One request per call with configured timeout and headers; retries
// up to RetryCount times on transient failure before surfacing an error.
type HTTPAdapter struct {
	providerID string
	cfg        registry.HTTPConfig
	client     *http.Client
}

// NewHTTPAdapter constructs an HTTPAdapter bound to one provider's HTTP
// configuration.
func NewHTTPAdapter(providerID string, cfg registry.HTTPConfig) *HTTPAdapter {
	timeout := time.Duration(cfg.RequestTimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		providerID: providerID,
		cfg:        cfg,
		client:     &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.AuthHeaderValue != "" {
		req.Header.Set("Authorization", a.cfg.AuthHeaderValue)
	}
	for k, v := range a.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

// SendUnary implements Adapter.
func (a *HTTPAdapter) SendUnary(ctx context.Context, req ChatRequest) (ChatResponse, Usage, error) {
	body, err := json.Marshal(upstreamChatBody{Model: req.Model, Messages: req.Messages})
	if err != nil {
		return ChatResponse{}, Usage{}, routererr.Wrap(routererr.ClientRequestInvalid, "encoding request", err)
	}
	requestContent := concatMessageContent(req.Messages)

	var lastErr error
	attempts := a.cfg.RetryCount + 1
	for i := 0; i < attempts; i++ {
		resp, usage, err := a.doUnary(ctx, body, requestContent)
		if err == nil {
			return resp, usage, nil
		}
		lastErr = err
		var re *routererr.Error
		if errors.As(err, &re) && !re.Kind.Recoverable() {
			return ChatResponse{}, Usage{}, err
		}
	}
	return ChatResponse{}, Usage{}, lastErr
}

func (a *HTTPAdapter) doUnary(ctx context.Context, body []byte, requestContent string) (ChatResponse, Usage, error) {
	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		return ChatResponse{}, Usage{}, routererr.Wrap(routererr.UpstreamTransient, "building request", err).WithProvider(a.providerID)
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, Usage{}, classifyTransportError(a.providerID, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return ChatResponse{}, Usage{}, routererr.Wrap(routererr.UpstreamTransient, "reading response body", err).WithProvider(a.providerID)
	}

	if err := classifyStatus(a.providerID, httpResp.StatusCode, httpResp.Header, data); err != nil {
		return ChatResponse{}, Usage{}, err
	}

	var parsed upstreamResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ChatResponse{}, Usage{}, routererr.Wrap(routererr.UpstreamTransient, "parsing response body", err).WithProvider(a.providerID)
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}

	usage := Usage{}
	if parsed.Usage != nil {
		usage.InputTokens = parsed.Usage.PromptTokens
		usage.OutputTokens = parsed.Usage.CompletionTokens
	} else {
		usage.InputTokens = EstimateTokens(requestContent)
		usage.OutputTokens = EstimateTokens(content)
		usage.Estimated = true
	}

	return ChatResponse{Model: "", Content: content}, usage, nil
}

// SendStream implements Adapter. The upstream's server-sent-event stream is
// forwarded chunk by chunk; the first successfully parsed chunk commits the
// caller to this candidate (spec.md invariant 5 is enforced by the
// Dispatcher, not here).
func (a *HTTPAdapter) SendStream(ctx context.Context, req ChatRequest) (StreamResult, error) {
	body, err := json.Marshal(upstreamChatBody{Model: req.Model, Messages: req.Messages, Stream: true})
	if err != nil {
		return StreamResult{}, routererr.Wrap(routererr.ClientRequestInvalid, "encoding request", err)
	}

	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		return StreamResult{}, routererr.Wrap(routererr.UpstreamTransient, "building request", err).WithProvider(a.providerID)
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return StreamResult{}, classifyTransportError(a.providerID, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return StreamResult{}, classifyStatus(a.providerID, httpResp.StatusCode, httpResp.Header, data)
	}

	chunks := make(chan StreamChunk)
	errc := make(chan error, 1)
	// Estimated up front from the request's own message content (spec.md
	// §4.4, scenario S5); overwritten below if the upstream ever reports a
	// real usage object.
	input := EstimateTokens(concatMessageContent(req.Messages))
	var output int64
	estimated := true

	go func() {
		defer httpResp.Body.Close()
		defer close(chunks)
		scanner := bufio.NewScanner(httpResp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				chunks <- StreamChunk{Done: true}
				return
			}
			var parsed upstreamResponse
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				errc <- routererr.Wrap(routererr.StreamingInterrupted, "parsing stream chunk", err).WithProvider(a.providerID)
				return
			}
			if parsed.Usage != nil {
				input, output = parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens
				estimated = false
			}
			if len(parsed.Choices) > 0 {
				content := parsed.Choices[0].Delta.Content
				if estimated {
					output += EstimateTokens(content)
				}
				chunks <- StreamChunk{Content: content}
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- routererr.Wrap(routererr.StreamingInterrupted, "reading stream", err).WithProvider(a.providerID)
		}
	}()

	return StreamResult{
		Chunks: chunks,
		Err:    errc,
		Usage:  func() Usage { return Usage{InputTokens: input, OutputTokens: output, Estimated: estimated} },
	}, nil
}

// concatMessageContent joins every message's content for the purpose of
// estimating the input-token count when the upstream doesn't report one
// (spec.md §4.4, scenario S5) — the estimate is over what was sent, not
// over what came back.
func concatMessageContent(msgs []ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
	}
	return b.String()
}

// classifyTransportError maps a net/http transport-level failure (timeouts,
// connection refused, DNS) to UpstreamTransient (spec.md §4.4).
func classifyTransportError(providerID string, err error) error {
	return routererr.Wrap(routererr.UpstreamTransient, "transport failure", err).WithProvider(providerID)
}

// classifyStatus maps an HTTP status code to the appropriate routererr.Kind
// (spec.md §4.4: "translates timeouts and 5xx into failures, 4xx into
// request errors (not provider errors — see §7), 2xx into success").
func classifyStatus(providerID string, status int, header http.Header, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return routererr.New(routererr.UpstreamAuth, fmt.Sprintf("status %d", status)).WithProvider(providerID)
	case status == http.StatusTooManyRequests:
		err := routererr.New(routererr.RateLimited, fmt.Sprintf("status %d", status)).WithProvider(providerID)
		if d, ok := parseRetryAfter(header.Get("Retry-After")); ok {
			err = err.WithRetryAfter(d)
		}
		return err
	case status >= 500:
		return routererr.New(routererr.UpstreamTransient, fmt.Sprintf("status %d: %s", status, truncateBody(body))).WithProvider(providerID)
	default:
		return routererr.New(routererr.ClientRequestInvalid, fmt.Sprintf("status %d: %s", status, truncateBody(body))).WithProvider(providerID)
	}
}

// parseRetryAfter interprets a Retry-After header as either a delta-seconds
// integer or an HTTP-date, per RFC 9110 §10.2.3 (spec.md §7: "RateLimited...
// bumped to at least any Retry-After hint").
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(v); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
