package grok

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSend_PostsChatCompletion(t *testing.T) {
	var got ChatRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"url":"https://img.example.com/a.png"}]}`))
	}))
	defer server.Close()

	req := &ChatRequest{
		Model: "grok-imagine-0.9",
		Messages: []Message{UserMessage(
			TextPart("add sunglasses"),
			ImagePart("data:image/png;base64,AAAA"),
		)},
	}
	body, err := NewClient(server.Client()).Send(context.Background(), Target{URL: server.URL, APIKey: "xai-test"}, req)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.Contains(string(body), "a.png") {
		t.Errorf("unexpected body: %s", body)
	}
	if auth != "Bearer xai-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Model != "grok-imagine-0.9" || len(got.Messages) != 1 {
		t.Fatalf("request = %+v", got)
	}
	parts := got.Messages[0].Content
	if got.Messages[0].Role != "user" || len(parts) != 2 {
		t.Fatalf("message = %+v", got.Messages[0])
	}
	if parts[0].Type != PartText || parts[0].Text != "add sunglasses" {
		t.Errorf("first part = %+v, want text", parts[0])
	}
	if parts[1].Type != PartImageURL || parts[1].ImageURL.URL != "data:image/png;base64,AAAA" {
		t.Errorf("second part = %+v, want image_url", parts[1])
	}
}

func TestSend_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	_, err := NewClient(nil).Send(context.Background(), Target{URL: server.URL}, &ChatRequest{Model: "m"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || !strings.Contains(statusErr.Body, "slow down") {
		t.Errorf("StatusError = %+v", statusErr)
	}
}

func TestSend_ErrorBodyWithSuccessStatus(t *testing.T) {
	tests := []struct {
		name, body, wantMsg string
	}{
		{"object", `{"error":{"message":"model overloaded","code":"overloaded"}}`, "model overloaded"},
		{"string", `{"error":"bad prompt"}`, "bad prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(nil).Send(context.Background(), Target{URL: server.URL}, &ChatRequest{})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestSend_NullErrorIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":null,"data":[]}`))
	}))
	defer server.Close()

	if _, err := NewClient(nil).Send(context.Background(), Target{URL: server.URL}, &ChatRequest{}); err != nil {
		t.Errorf("Send() error = %v, want nil", err)
	}
}

func TestSend_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(nil).Send(ctx, Target{URL: server.URL}, &ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Write([]byte(`{"object":"list","data":[{"id":"grok-imagine-0.9"},{"id":"grok-4"}]}`))
	}))
	defer server.Close()

	ids, err := NewClient(nil).ListModels(context.Background(), Target{URL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "grok-imagine-0.9" {
		t.Errorf("ids = %v", ids)
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("abcdef", 3); got != "abc..." {
		t.Errorf("truncateString() = %q", got)
	}
	if got := truncateString("abc", 3); got != "abc" {
		t.Errorf("truncateString() = %q", got)
	}
}
