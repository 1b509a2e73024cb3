package compiler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func chatFixture(content string) string {
	resp := map[string]any{
		"id":    "chatcmpl-test",
		"model": "gpt-4o-mini",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func newTestClient(url string, retries int) *ChatClient {
	return NewChatClient(ChatConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
		Retries: retries,
	})
}

func TestChatClientComplete(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(chatFixture(`{"field":"weight"}`)))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	got, err := client.CompleteWithSystem(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("CompleteWithSystem() error = %v", err)
	}
	if got != `{"field":"weight"}` {
		t.Errorf("response = %q", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
	if gotReq.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", gotReq.Temperature)
	}
}

func TestChatClientRetriesOn429(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(chatFixture("ok")))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	got, err := client.CompleteWithSystem(context.Background(), "", "prompt")
	if err != nil {
		t.Fatalf("CompleteWithSystem() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("response = %q", got)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestChatClientRetriesOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1)
	_, err := client.CompleteWithSystem(context.Background(), "", "prompt")
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "retries exhausted") {
		t.Errorf("error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestChatClientFailsFastOnAuthError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.CompleteWithSystem(context.Background(), "", "prompt")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (4xx other than 429 must not retry)", attempts)
	}
}

func TestChatClientRequiresAPIKey(t *testing.T) {
	client := NewChatClient(ChatConfig{BaseURL: "http://localhost:1", Model: "m", Timeout: time.Second})
	if _, err := client.CompleteWithSystem(context.Background(), "", "prompt"); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestChatClientEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	if _, err := client.CompleteWithSystem(context.Background(), "", "prompt"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
