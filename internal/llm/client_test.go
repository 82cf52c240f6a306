//nolint:goconst // Test files use repeated strings for clarity
package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestClient_Invoke(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		responseBody  string
		wantError     bool
		wantErrSubstr string
		wantContent   string
		wantToolCalls int
	}{
		{
			name:       "Successful content response",
			statusCode: http.StatusOK,
			responseBody: `{
				"id": "test-123",
				"model": "qwen-plus",
				"choices": [{
					"message": {
						"role": "assistant",
						"content": "{\"sentiment_score\": 0.4, \"confidence\": 0.8}"
					},
					"finish_reason": "stop"
				}],
				"usage": {
					"prompt_tokens": 100,
					"completion_tokens": 50,
					"total_tokens": 150
				}
			}`,
			wantError:   false,
			wantContent: `{"sentiment_score": 0.4, "confidence": 0.8}`,
		},
		{
			name:       "Successful tool call response",
			statusCode: http.StatusOK,
			responseBody: `{
				"id": "test-456",
				"model": "qwen-plus",
				"choices": [{
					"message": {
						"role": "assistant",
						"content": "",
						"tool_calls": [{
							"id": "call_1",
							"type": "function",
							"function": {
								"name": "fetch_macro_data",
								"arguments": "{}"
							}
						}]
					},
					"finish_reason": "tool_calls"
				}],
				"usage": {"total_tokens": 80}
			}`,
			wantError:     false,
			wantToolCalls: 1,
		},
		{
			name:       "Structured API error",
			statusCode: http.StatusTooManyRequests,
			responseBody: `{
				"error": {
					"message": "Rate limit exceeded",
					"type": "rate_limit_error"
				}
			}`,
			wantError:     true,
			wantErrSubstr: "Rate limit exceeded",
		},
		{
			name:          "Unstructured error body",
			statusCode:    http.StatusBadGateway,
			responseBody:  `upstream connect error`,
			wantError:     true,
			wantErrSubstr: "status 502",
		},
		{
			name:          "Empty choices",
			statusCode:    http.StatusOK,
			responseBody:  `{"id": "test-789", "choices": [], "usage": {}}`,
			wantError:     true,
			wantErrSubstr: "no choices",
		},
		{
			name:          "Malformed response body",
			statusCode:    http.StatusOK,
			responseBody:  `{"choices": [`,
			wantError:     true,
			wantErrSubstr: "failed to parse response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST, got %s", r.Method)
				}
				if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
					t.Errorf("Expected bearer auth header, got %q", auth)
				}

				var req chatRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("Failed to decode request: %v", err)
				}
				if len(req.Messages) != 2 {
					t.Errorf("Expected 2 messages, got %d", len(req.Messages))
				}

				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.responseBody)) // Test mock response
			}))
			defer server.Close()

			client := NewClient(ClientConfig{
				Endpoint: server.URL,
				APIKey:   "test-key",
				Model:    "qwen-plus",
				Timeout:  5 * time.Second,
			})

			messages := []Message{
				SystemMessage("You are a macro analyst."),
				UserMessage("Analyze today's macro environment."),
			}

			msg, err := client.Invoke(context.Background(), messages, nil)

			if tt.wantError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if tt.wantErrSubstr != "" && !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Errorf("Expected error containing %q, got: %v", tt.wantErrSubstr, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected success, got error: %v", err)
			}
			if tt.wantContent != "" && msg.Content != tt.wantContent {
				t.Errorf("Expected content %q, got %q", tt.wantContent, msg.Content)
			}
			if len(msg.ToolCalls) != tt.wantToolCalls {
				t.Errorf("Expected %d tool calls, got %d", tt.wantToolCalls, len(msg.ToolCalls))
			}
			if tt.wantToolCalls > 0 {
				if msg.ToolCalls[0].Function.Name != "fetch_macro_data" {
					t.Errorf("Expected tool call fetch_macro_data, got %q", msg.ToolCalls[0].Function.Name)
				}
				if !msg.HasToolCalls() {
					t.Error("HasToolCalls should be true")
				}
			}
		})
	}
}

func TestClient_InvokeSendsTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if len(req.Tools) != 1 {
			t.Errorf("Expected 1 tool declaration, got %d", len(req.Tools))
		} else if req.Tools[0].Function.Name != "fetch_policy_news" {
			t.Errorf("Expected fetch_policy_news, got %q", req.Tools[0].Function.Name)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL, Timeout: 5 * time.Second})

	tool := NewTool("fetch_policy_news", "Fetch recent policy news",
		json.RawMessage(`{"type": "object", "properties": {}}`))

	_, err := client.Invoke(context.Background(), []Message{UserMessage("hi")}, []Tool{tool})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
}

func TestClient_InvokeWithRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": {"message": "transient"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "recovered"}}]}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL, Timeout: 5 * time.Second})

	msg, err := client.InvokeWithRetry(context.Background(), []Message{UserMessage("hi")}, nil, 2)
	if err != nil {
		t.Fatalf("Expected retry to recover, got error: %v", err)
	}
	if msg.Content != "recovered" {
		t.Errorf("Expected recovered content, got %q", msg.Content)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestClient_InvokeWithRetryContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "always failing"}}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL, Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.InvokeWithRetry(ctx, []Message{UserMessage("hi")}, nil, 3)
	if err == nil {
		t.Fatal("Expected error after context cancellation")
	}
}

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
			t.Errorf("Expected system+user messages, got %+v", req.Messages)
		}
		if len(req.Tools) != 0 {
			t.Errorf("Complete must not offer tools, got %d", len(req.Tools))
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "prose answer"}}]}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL, Timeout: 5 * time.Second})

	out, err := client.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "prose answer" {
		t.Errorf("Expected prose answer, got %q", out)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{})

	if client.endpoint == "" {
		t.Error("Expected default endpoint")
	}
	if client.temperature != 0.7 {
		t.Errorf("Expected default temperature 0.7, got %f", client.temperature)
	}
	if client.maxTokens != 2000 {
		t.Errorf("Expected default max tokens 2000, got %d", client.maxTokens)
	}
	if client.timeout != 60*time.Second {
		t.Errorf("Expected default timeout 60s, got %v", client.timeout)
	}
}
