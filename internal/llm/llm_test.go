package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stationops/skillcheck/internal/model"
)

func chatHandler(reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1234567890,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}
}

func newTestGrader(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Grader {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		Provider:      ProviderOpenAI,
		BaseURL:       server.URL + "/v1",
		APIKey:        "test-key",
		Model:         "test-model",
		Timeout:       timeout,
		FallbackScore: 60,
		PromptVariant: "standard",
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return NewGrader(client, cfg)
}

var subjective = model.Question{
	ID:            7,
	Content:       "Explain the refund rule.",
	Type:          model.QuestionSubjective,
	CorrectAnswer: "Refunds before departure are free.",
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		reply   string
		want    float64
		wantErr bool
	}{
		{"85", 85, false},
		{" 72.5\n", 72.5, false},
		{"90%", 90, false},
		{"88 分", 88, false},
		{"Score: 90", 0, true},
		{"Out of 100, I would give 45", 0, true},
		{"Covers 2 of 4 key points: 50", 0, true},
		{"150", 0, true},
		{"-5", 0, true},
		{"NaN", 0, true},
		{"excellent", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			got, err := ParseScore(tt.reply)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScore(%q) err = %v, wantErr %v", tt.reply, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseScore(%q) = %v, want %v", tt.reply, got, tt.want)
			}
		})
	}
}

func TestGraderOpenAI(t *testing.T) {
	var gotBody map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		chatHandler("85")(w, r)
	}
	g := newTestGrader(t, handler, time.Second)

	if got := g.Score(context.Background(), subjective, "Free before departure."); got != 85 {
		t.Errorf("Score = %v, want 85", got)
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(msgs))
	}
}

func TestGraderFallback(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
		}, time.Second},
		{"unparseable reply", chatHandler("good answer"), time.Second},
		{"number in prose", chatHandler("Out of 100, I would give 45"), time.Second},
		{"out of range", chatHandler("150"), time.Second},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			chatHandler("99")(w, r)
		}, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGrader(t, tt.handler, tt.timeout)
			if got := g.Score(context.Background(), subjective, "x"); got != 60 {
				t.Errorf("Score = %v, want fallback 60", got)
			}
		})
	}
}

func TestGraderAnthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-haiku-4-5",
			"content":     []map[string]any{{"type": "text", "text": "42"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 1},
		})
	}))
	defer server.Close()

	cfg := Config{
		Provider:      ProviderAnthropic,
		BaseURL:       server.URL,
		APIKey:        "test-key",
		Model:         "claude-haiku-4-5",
		Timeout:       time.Second,
		FallbackScore: 60,
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := NewGrader(client, cfg).Score(context.Background(), subjective, "x"); got != 42 {
		t.Errorf("Score = %v, want 42", got)
	}
}

func TestGraderNoProvider(t *testing.T) {
	cfg := Config{Provider: ProviderNone, FallbackScore: 55}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for provider none")
	}
	if got := NewGrader(client, cfg).Score(context.Background(), subjective, "x"); got != 55 {
		t.Errorf("Score = %v, want 55", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"none", Config{Provider: ProviderNone, FallbackScore: 60}, false},
		{"openai", Config{Provider: ProviderOpenAI, Model: "m", FallbackScore: 60}, false},
		{"missing model", Config{Provider: ProviderOpenAI, FallbackScore: 60}, true},
		{"unknown provider", Config{Provider: "bard"}, true},
		{"fallback out of range", Config{Provider: ProviderNone, FallbackScore: 120}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
