package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fairtest/fairtest/internal/model"
)

func TestParseSuggestion(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		max       float64
		wantScore float64
		wantErr   bool
	}{
		{"in range", `{"score": 3.5, "feedback": "ok"}`, 5, 3.5, false},
		{"negative clamps", `{"score": -2, "feedback": ""}`, 5, 0, false},
		{"over max clamps", `{"score": 12, "feedback": ""}`, 5, 5, false},
		{"missing score", `{"feedback": "?"}`, 5, 0, false},
		{"not json", `five points`, 5, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSuggestion(tt.raw, tt.max)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSuggestion: %v", err)
			}
			if got.Score != tt.wantScore {
				t.Errorf("score = %v, want %v", got.Score, tt.wantScore)
			}
			if got.MaxMarks != tt.max {
				t.Errorf("maxMarks = %v, want %v", got.MaxMarks, tt.max)
			}
		})
	}
}

func newFakeAPI(t *testing.T, content string) (*httptest.Server, *string) {
	t.Helper()
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && len(req.Messages) > 0 {
			gotPrompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &gotPrompt
}

func TestSuggestScore(t *testing.T) {
	srv, prompt := newFakeAPI(t, `{"score": 9, "feedback": "mentions scheduling"}`)
	c := New(srv.URL+"/v1", "test-key", "test-model", "lenient")

	q := model.Question{ID: "q2", Type: "essay", Text: "Explain goroutines", Marks: 6}
	s, err := c.SuggestScore(context.Background(), q, "cheap threads")
	if err != nil {
		t.Fatalf("SuggestScore: %v", err)
	}
	if s.QuestionID != "q2" || s.Score != 6 || s.Feedback != "mentions scheduling" {
		t.Errorf("unexpected suggestion: %+v", s)
	}
	if !strings.Contains(*prompt, "cheap threads") || !strings.Contains(*prompt, "elective") {
		t.Errorf("request did not carry the lenient prompt: %q", *prompt)
	}
}

func TestSuggestScoreRejectsObjectiveQuestions(t *testing.T) {
	c := New("http://127.0.0.1:0/v1", "", "m", "")
	_, err := c.SuggestScore(context.Background(), model.Question{ID: "q1", Type: "mcq", Marks: 1}, "A")
	if !errors.Is(err, ErrNotManual) {
		t.Errorf("expected ErrNotManual, got %v", err)
	}
}

func TestNewFallsBackToStandard(t *testing.T) {
	c := New("", "", "m", "harsh")
	if c.variant != "standard" {
		t.Errorf("expected standard variant, got %q", c.variant)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": "test-model", "object": "model"}},
		})
	}))
	t.Cleanup(srv.Close)

	if err := New(srv.URL+"/v1", "k", "test-model", "").Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
