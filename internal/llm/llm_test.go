package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJudgmentOpts(t *testing.T) {
	opts := JudgmentOpts("system text", 200, 0)
	if opts.Format != "json" || opts.System != "system text" || opts.MaxTokens != 200 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Temperature != verdictTemperature {
		t.Errorf("temperature = %v, want verdict default", opts.Temperature)
	}
	if got := JudgmentOpts("s", 800, 0.3).Temperature; got != 0.3 {
		t.Errorf("explicit temperature = %v, want 0.3", got)
	}
}

func TestParseProviderFlag(t *testing.T) {
	cfg, err := ParseProviderFlag("")
	if err != nil || cfg.Provider != "google" || cfg.Model != "gemini-2.5-flash" {
		t.Errorf("default flag = %+v, %v", cfg, err)
	}
	cfg, err = ParseProviderFlag("openrouter/openai/gpt-4o-mini")
	if err != nil || cfg.Provider != "openrouter" || cfg.Model != "openai/gpt-4o-mini" {
		t.Errorf("openrouter flag = %+v, %v", cfg, err)
	}
	if _, err := ParseProviderFlag("modelonly"); err == nil {
		t.Error("expected error for flag without provider")
	}
	if _, err := ParseProviderFlag("mystery/model"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestGoogleCompleteSendsJSONRequest(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "{\"ok\": true}\n"}}}},
			},
		})
	}))
	defer srv.Close()

	p, err := NewProvider(Config{Provider: "google", APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	got, err := p.Complete(context.Background(), "prompt", JudgmentOpts("system", 200, 0))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"ok": true}` {
		t.Errorf("response = %q, want trimmed body", got)
	}

	gen, _ := captured["generationConfig"].(map[string]any)
	if gen == nil || gen["responseMimeType"] != "application/json" {
		t.Errorf("generationConfig = %v, want JSON mime type", gen)
	}
	if captured["systemInstruction"] == nil {
		t.Error("system instruction missing from request")
	}
}

func TestOpenrouterCompleteSendsJSONRequest(t *testing.T) {
	var captured map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"ok": true}`}},
			},
		})
	}))
	defer srv.Close()

	p, err := NewProvider(Config{Provider: "openrouter", APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	got, err := p.Complete(context.Background(), "prompt", JudgmentOpts("system", 200, 0))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"ok": true}` {
		t.Errorf("response = %q", got)
	}

	if auth != "Bearer test-key" {
		t.Errorf("authorization = %q", auth)
	}
	rf, _ := captured["response_format"].(map[string]any)
	if rf == nil || rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", rf)
	}
	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want system + user", len(msgs))
	}
}

func TestGoogleCompleteSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 429, "message": "quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewProvider(Config{Provider: "google", APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, err := p.Complete(context.Background(), "prompt", JudgmentOpts("s", 10, 0)); err == nil {
		t.Error("expected error for non-200 response")
	}
}
