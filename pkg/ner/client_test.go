package ner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/models"
)

func testConfig(url string) models.NerConfig {
	return models.NerConfig{
		URL:            url,
		Timeout:        2 * time.Second,
		MaxSamples:     50,
		RetryAttempts:  2,
		RetryDelay:     5 * time.Millisecond,
		CircuitBreaker: false,
	}
}

func newTestClient(t *testing.T, cfg models.NerConfig) *Client {
	t.Helper()
	client, err := NewClient(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	return client
}

func TestClient_Recognize_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/ner" {
			t.Errorf("expected path /ner, got %s", r.URL.Path)
		}

		var req nerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if len(req.Samples) != 2 {
			t.Errorf("expected 2 samples, got %d", len(req.Samples))
		}

		resp := nerResponse{Results: [][]Entity{
			{{Text: "John Smith", Type: "PERSON", Score: 0.93}},
			{},
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL+"/ner"))

	results, err := client.Recognize(context.Background(), []string{"John Smith", "12345"})
	if err != nil {
		t.Fatalf("Recognize() failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 result rows, got %d", len(results))
	}
	if len(results[0]) != 1 || results[0][0].Type != "PERSON" {
		t.Errorf("expected first row to contain a PERSON entity, got %+v", results[0])
	}
	if results[0][0].Score != 0.93 {
		t.Errorf("expected score 0.93, got %v", results[0][0].Score)
	}
	if len(results[1]) != 0 {
		t.Errorf("expected second row to be empty, got %+v", results[1])
	}
}

func TestClient_Recognize_EmptySamples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called for empty input")
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL+"/ner"))

	results, err := client.Recognize(context.Background(), nil)
	if err != nil {
		t.Fatalf("Recognize() failed: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for empty input, got %+v", results)
	}
}

func TestClient_Recognize_CapsSamples(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req nerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		received.Store(int32(len(req.Samples)))

		resp := nerResponse{Results: make([][]Entity, len(req.Samples))}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/ner")
	cfg.MaxSamples = 3
	client := newTestClient(t, cfg)

	samples := []string{"a", "b", "c", "d", "e", "f"}
	results, err := client.Recognize(context.Background(), samples)
	if err != nil {
		t.Fatalf("Recognize() failed: %v", err)
	}

	if got := received.Load(); got != 3 {
		t.Errorf("expected server to receive 3 samples, got %d", got)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 result rows, got %d", len(results))
	}
}

func TestClient_Recognize_NotFoundFailsFast(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL+"/ner"))

	_, err := client.Recognize(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !errors.Is(err, apperrors.ErrNerUnavailable) {
		t.Errorf("expected ErrNerUnavailable, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single attempt for 404 (no retries), got %d", got)
	}
}

func TestClient_Recognize_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(nerResponse{Results: [][]Entity{{}}})
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL+"/ner"))

	results, err := client.Recognize(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("Recognize() failed after retries: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result row, got %d", len(results))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts (2 failures + success), got %d", got)
	}
}

func TestClient_Recognize_ExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/ner")
	cfg.RetryAttempts = 1
	client := newTestClient(t, cfg)

	_, err := client.Recognize(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	if !errors.Is(err, apperrors.ErrNerUnavailable) {
		t.Errorf("expected ErrNerUnavailable, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts (1 retry), got %d", got)
	}
}

func TestClient_Recognize_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/ner")
	cfg.CircuitBreaker = true
	client := newTestClient(t, cfg)

	// Trip the breaker with consecutive failed calls.
	threshold := DefaultCircuitBreakerConfig().Threshold
	for i := 0; i < threshold; i++ {
		if _, err := client.Recognize(context.Background(), []string{"x"}); err == nil {
			t.Fatal("expected failure while tripping breaker")
		}
	}

	if client.BreakerState() != CircuitOpen {
		t.Fatalf("expected breaker to be open after %d failures, got %v", threshold, client.BreakerState())
	}

	before := calls.Load()
	_, err := client.Recognize(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error while breaker is open")
	}
	if !errors.Is(err, apperrors.ErrNerUnavailable) {
		t.Errorf("expected ErrNerUnavailable, got %v", err)
	}
	if calls.Load() != before {
		t.Errorf("expected no server call while breaker is open, got %d extra", calls.Load()-before)
	}
}

func TestClient_Healthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("expected path /health, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL+"/ner"))

	if err := client.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy() failed: %v", err)
	}
}

func TestClient_Healthy_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL+"/ner"))

	err := client.Healthy(context.Background())
	if err == nil {
		t.Fatal("expected error for unhealthy sidecar")
	}
	if !errors.Is(err, apperrors.ErrNerUnavailable) {
		t.Errorf("expected ErrNerUnavailable, got %v", err)
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(models.NerConfig{}, zap.NewNop())
	if err == nil {
		t.Error("expected error for missing URL")
	}
}

func TestDeriveHealthURL(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"http://localhost:5001/ner", "http://localhost:5001/health", false},
		{"https://ner.internal/api/v2/ner?mode=fast", "https://ner.internal/health", false},
		{"http://localhost:5001", "http://localhost:5001/health", false},
		{"/ner", "", true},
	}

	for _, tt := range tests {
		got, err := deriveHealthURL(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("deriveHealthURL(%q) expected error, got %q", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("deriveHealthURL(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("deriveHealthURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
