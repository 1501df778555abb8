package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GGUFloader/agentcore/internal/adapter/litellm"
	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/port/llm"
	"github.com/GGUFloader/agentcore/internal/resilience"
)

func newClient(url string) *litellm.Client {
	return litellm.NewClient(config.LiteLLM{URL: url, MasterKey: "test-key", Model: "local/gguf", Timeout: 5 * time.Second})
}

func sseServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["stream"] != true || body["model"] != "local/gguf" {
			t.Errorf("unexpected request body: %v", body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestGenerate_StreamsTokens(t *testing.T) {
	srv := sseServer(t, "Hel", "lo", " world")
	defer srv.Close()

	var toks []string
	out, err := newClient(srv.URL).Generate(context.Background(), llm.Request{Prompt: "hi", MaxTokens: 16}, func(s string) {
		toks = append(toks, s)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Hello world" {
		t.Errorf("output = %q", out)
	}
	if strings.Join(toks, "|") != "Hel|lo| world" {
		t.Errorf("tokens = %v", toks)
	}
}

func TestGenerate_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"context length exceeded\"}}\n\n")
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Generate(context.Background(), llm.Request{Prompt: "hi"}, nil)
	if err == nil || !strings.Contains(err.Error(), "context length exceeded") {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestGenerate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Generate(context.Background(), llm.Request{Prompt: "hi"}, nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestGenerate_UnreachableIsModelUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(url).Generate(context.Background(), llm.Request{Prompt: "hi"}, nil)
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestGenerate_OpenBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	c.SetBreaker(resilience.NewBreaker(1, time.Minute))
	ctx := context.Background()

	if _, err := c.Generate(ctx, llm.Request{Prompt: "a"}, nil); err == nil {
		t.Fatal("first call should fail")
	}
	_, err := c.Generate(ctx, llm.Request{Prompt: "b"}, nil)
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable from open breaker, got %v", err)
	}
	if calls != 1 {
		t.Errorf("server called %d times, want 1", calls)
	}
}

func TestListModelsAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/model/info":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"model_name": "local/gguf", "litellm_provider": "openai"}},
			})
		case "/health":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"healthy_endpoints":   []map[string]string{{"model": "local/gguf"}},
				"unhealthy_endpoints": []map[string]string{{"model": "other", "error": "ConnectionError"}},
				"healthy_count":       1,
				"unhealthy_count":     1,
			})
		case "/health/liveliness":
			_, _ = w.Write([]byte(`"I'm alive!"`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	ctx := context.Background()

	models, err := c.ListModels(ctx)
	if err != nil || len(models) != 1 || models[0].Provider != "openai" {
		t.Fatalf("ListModels = %+v, %v", models, err)
	}
	report, err := c.HealthDetailed(ctx)
	if err != nil || report.HealthyCount != 1 || report.UnhealthyEndpoints[0].Error != "ConnectionError" {
		t.Fatalf("HealthDetailed = %+v, %v", report, err)
	}
	if ok, err := c.Health(ctx); !ok || err != nil {
		t.Fatalf("Health = %v, %v", ok, err)
	}
	if c.Name() != "local/gguf" {
		t.Errorf("Name = %q", c.Name())
	}
}
