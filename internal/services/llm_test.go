package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MegaGrindStone/worldcup-chat/internal/models"
	"github.com/MegaGrindStone/worldcup-chat/internal/services"
)

func TestOpenAIChat(t *testing.T) {
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature float32 `json:"temperature"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Authorization = %s, want Bearer key", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[`+
			`{"index":0,"message":{"role":"assistant","content":"메시입니다."},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	temp := float32(0.2)
	o := services.NewOpenAI("key", srv.URL, "gpt-test", services.LLMParameters{Temperature: &temp}, testLogger())

	reply, err := o.Chat(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "메시입니다." {
		t.Errorf("Chat() = %q, want %q", reply, "메시입니다.")
	}
	if gotBody.Model != "gpt-test" {
		t.Errorf("model = %s, want gpt-test", gotBody.Model)
	}
	if gotBody.Temperature != temp {
		t.Errorf("temperature = %v, want %v", gotBody.Temperature, temp)
	}
	if len(gotBody.Messages) != len(conversation()) || gotBody.Messages[0].Role != "system" {
		t.Errorf("messages = %+v, want the whole conversation starting with system", gotBody.Messages)
	}
}

func TestOpenAIChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	o := services.NewOpenAI("key", srv.URL, "gpt-test", services.LLMParameters{}, testLogger())

	_, err := o.Chat(context.Background(), conversation())
	var statusErr *services.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Chat() error = %v, want *services.StatusError", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusInternalServerError)
	}
}

func TestOllamaChat(t *testing.T) {
	var gotBody struct {
		Model    string `json:"model"`
		Stream   *bool  `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama","message":{"role":"assistant","content":"호나우두입니다."},"done":true}`+"\n")
	}))
	defer srv.Close()

	o, err := services.NewOllama(srv.URL, "llama", services.LLMParameters{}, testLogger())
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}

	reply, err := o.Chat(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "호나우두입니다." {
		t.Errorf("Chat() = %q, want %q", reply, "호나우두입니다.")
	}
	if gotBody.Stream == nil || *gotBody.Stream {
		t.Error("stream should be sent as false")
	}
	if len(gotBody.Messages) != len(conversation()) {
		t.Errorf("sent %d messages, want %d", len(gotBody.Messages), len(conversation()))
	}
}

func TestOllamaChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{}`+"\n")
	}))
	defer srv.Close()

	o, err := services.NewOllama(srv.URL, "llama", services.LLMParameters{}, testLogger())
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}
	if _, err := o.Chat(context.Background(), conversation()); err == nil {
		t.Fatal("Chat() should return error on server failure")
	}
}

func TestAnthropicChat(t *testing.T) {
	var gotBody struct {
		System   string `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "key" {
			t.Errorf("X-API-Key = %s, want key", r.Header.Get("X-API-Key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"지단"},{"type":"text","text":"입니다."}]}`)
	}))
	defer srv.Close()

	a := services.NewAnthropic("key", srv.URL, "claude-test", 512, testLogger())

	reply, err := a.Chat(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "지단입니다." {
		t.Errorf("Chat() = %q, want %q", reply, "지단입니다.")
	}
	if gotBody.System != "preamble" {
		t.Errorf("system = %q, want preamble", gotBody.System)
	}
	for _, m := range gotBody.Messages {
		if m.Role == string(models.RoleSystem) {
			t.Error("system message should not be sent in the message list")
		}
	}
	if len(gotBody.Messages) != len(conversation())-1 {
		t.Errorf("sent %d messages, want %d", len(gotBody.Messages), len(conversation())-1)
	}
	if gotBody.MaxTokens != 512 {
		t.Errorf("max_tokens = %d, want 512", gotBody.MaxTokens)
	}
}

func TestAnthropicChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	a := services.NewAnthropic("key", srv.URL, "claude-test", 512, testLogger())

	_, err := a.Chat(context.Background(), conversation())
	var statusErr *services.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Chat() error = %v, want *services.StatusError", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || statusErr.Body != "slow down" {
		t.Errorf("StatusError = %+v, want 429 with message", statusErr)
	}
}
