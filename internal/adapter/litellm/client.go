// Package litellm implements the model port against a LiteLLM proxy (or any
// OpenAI-compatible endpoint) using streamed chat completions.
package litellm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/port/llm"
	"github.com/GGUFloader/agentcore/internal/resilience"
)

var _ llm.Model = (*Client)(nil)

// ModelInfo is one configured model as reported by the proxy.
type ModelInfo struct {
	ModelName string         `json:"model_name"`
	Provider  string         `json:"litellm_provider,omitempty"`
	ModelInfo map[string]any `json:"model_info,omitempty"`
}

// EndpointHealth is the health of a single upstream endpoint.
type EndpointHealth struct {
	Model   string `json:"model"`
	APIBase string `json:"api_base,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthReport is the detailed /health response.
type HealthReport struct {
	HealthyEndpoints   []EndpointHealth `json:"healthy_endpoints"`
	UnhealthyEndpoints []EndpointHealth `json:"unhealthy_endpoints"`
	HealthyCount       int              `json:"healthy_count"`
	UnhealthyCount     int              `json:"unhealthy_count"`
}

// Client talks to the proxy.
type Client struct {
	baseURL    string
	masterKey  string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a client for cfg.Model.
func NewClient(cfg config.LiteLLM) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		masterKey: cfg.MasterKey,
		model:     cfg.Model,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetBreaker routes every call through b. An open circuit is reported as
// domain.ErrModelUnavailable.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Name returns the bound model name.
func (c *Client) Name() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate streams a chat completion for req.Prompt. onToken receives each
// content delta in order.
func (c *Client) Generate(ctx context.Context, req llm.Request, onToken func(string)) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion: %w", err)
	}

	var out strings.Builder
	err = c.execute(func() error {
		out.Reset()
		resp, err := c.send(ctx, http.MethodPost, "/v1/chat/completions", body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		return readStream(resp.Body, func(tok string) {
			out.WriteString(tok)
			if onToken != nil {
				onToken(tok)
			}
		})
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out.String(), nil
}

// readStream parses server-sent events until [DONE] or EOF.
func readStream(r io.Reader, onToken func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("stream error: %s", chunk.Error.Message)
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				onToken(ch.Delta.Content)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// ListModels returns the models configured on the proxy.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result struct {
		Data []ModelInfo `json:"data"`
	}
	if err := c.getJSON(ctx, "/model/info", &result); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return result.Data, nil
}

// Health reports whether the proxy is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	err := c.execute(func() error {
		resp, err := c.send(ctx, http.MethodGet, "/health/liveliness", nil)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	})
	return err == nil, err
}

// HealthDetailed returns per-endpoint health.
func (c *Client) HealthDetailed(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := c.getJSON(ctx, "/health", &report); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &report, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	return c.execute(func() error {
		resp, err := c.send(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	})
}

// execute runs call through the breaker when one is set.
func (c *Client) execute(call func() error) error {
	if c.breaker == nil {
		return call()
	}
	err := c.breaker.Execute(call)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	return err
}

// send performs a request and fails on non-2xx responses. Transport
// failures are reported as domain.ErrModelUnavailable.
func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("litellm API error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}
