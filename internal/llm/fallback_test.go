//nolint:goconst // Test files use repeated strings for clarity
package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func okServer(t *testing.T, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "` + content + `"}}]}`))
	}))
}

func failingServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "Service unavailable"}}`)) // Test mock response
	}))
}

func TestFallbackModel_SuccessOnPrimary(t *testing.T) {
	var secondaryCalls atomic.Int32

	primary := okServer(t, "Primary response", nil)
	defer primary.Close()
	secondary := okServer(t, "Secondary response", &secondaryCalls)
	defer secondary.Close()

	fm := NewFallbackModel(
		[]ChatModel{
			NewClient(ClientConfig{Endpoint: primary.URL, Timeout: 5 * time.Second}),
			NewClient(ClientConfig{Endpoint: secondary.URL, Timeout: 5 * time.Second}),
		},
		[]string{"primary", "secondary"},
	)

	msg, err := fm.Invoke(context.Background(), []Message{UserMessage("Test")}, nil)
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if msg.Content != "Primary response" {
		t.Errorf("Expected primary response, got %q", msg.Content)
	}
	if secondaryCalls.Load() != 0 {
		t.Error("Secondary model should not have been called")
	}
}

func TestFallbackModel_FallsBackOnFailure(t *testing.T) {
	primary := failingServer(t, nil)
	defer primary.Close()
	secondary := okServer(t, "Secondary response", nil)
	defer secondary.Close()

	fm := NewFallbackModel(
		[]ChatModel{
			NewClient(ClientConfig{Endpoint: primary.URL, Timeout: 5 * time.Second}),
			NewClient(ClientConfig{Endpoint: secondary.URL, Timeout: 5 * time.Second}),
		},
		[]string{"primary", "secondary"},
	)

	msg, err := fm.Invoke(context.Background(), []Message{UserMessage("Test")}, nil)
	if err != nil {
		t.Fatalf("Expected fallback to answer, got error: %v", err)
	}
	if msg.Content != "Secondary response" {
		t.Errorf("Expected secondary response, got %q", msg.Content)
	}
}

func TestFallbackModel_AllFail(t *testing.T) {
	primary := failingServer(t, nil)
	defer primary.Close()
	secondary := failingServer(t, nil)
	defer secondary.Close()

	fm := NewFallbackModel(
		[]ChatModel{
			NewClient(ClientConfig{Endpoint: primary.URL, Timeout: 5 * time.Second}),
			NewClient(ClientConfig{Endpoint: secondary.URL, Timeout: 5 * time.Second}),
		},
		[]string{"primary", "secondary"},
	)

	_, err := fm.Invoke(context.Background(), []Message{UserMessage("Test")}, nil)
	if err == nil {
		t.Fatal("Expected error when all models fail")
	}
	if !strings.Contains(err.Error(), "all models failed") {
		t.Errorf("Expected all-models-failed error, got: %v", err)
	}
}

func TestFallbackModel_BreakerSkipsDeadModel(t *testing.T) {
	var primaryCalls atomic.Int32

	primary := failingServer(t, &primaryCalls)
	defer primary.Close()
	secondary := okServer(t, "Secondary response", nil)
	defer secondary.Close()

	fm := NewFallbackModel(
		[]ChatModel{
			NewClient(ClientConfig{Endpoint: primary.URL, Timeout: 5 * time.Second}),
			NewClient(ClientConfig{Endpoint: secondary.URL, Timeout: 5 * time.Second}),
		},
		[]string{"primary", "secondary"},
		WithFailureThreshold(2),
		WithCooldown(time.Minute),
	)

	// Two failing invocations open the primary's breaker.
	for i := 0; i < 2; i++ {
		if _, err := fm.Invoke(context.Background(), []Message{UserMessage("Test")}, nil); err != nil {
			t.Fatalf("Invocation %d failed: %v", i, err)
		}
	}
	if primaryCalls.Load() != 2 {
		t.Fatalf("Expected 2 primary calls before breaker opens, got %d", primaryCalls.Load())
	}

	// With the breaker open the primary must be skipped entirely.
	msg, err := fm.Invoke(context.Background(), []Message{UserMessage("Test")}, nil)
	if err != nil {
		t.Fatalf("Expected success via secondary, got error: %v", err)
	}
	if msg.Content != "Secondary response" {
		t.Errorf("Expected secondary response, got %q", msg.Content)
	}
	if primaryCalls.Load() != 2 {
		t.Errorf("Primary should be skipped while breaker is open, got %d calls", primaryCalls.Load())
	}
}

func TestFallbackModel_ContextCancelStopsChain(t *testing.T) {
	var secondaryCalls atomic.Int32

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Block long enough for the caller's deadline to pass.
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "late"}}]}`))
	}))
	defer primary.Close()
	secondary := okServer(t, "Secondary response", &secondaryCalls)
	defer secondary.Close()

	fm := NewFallbackModel(
		[]ChatModel{
			NewClient(ClientConfig{Endpoint: primary.URL, Timeout: 5 * time.Second}),
			NewClient(ClientConfig{Endpoint: secondary.URL, Timeout: 5 * time.Second}),
		},
		[]string{"primary", "secondary"},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := fm.Invoke(ctx, []Message{UserMessage("Test")}, nil)
	if err == nil {
		t.Fatal("Expected error after context deadline")
	}
	if secondaryCalls.Load() != 0 {
		t.Error("Chain must stop once the caller's context is done")
	}
}
