package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/fairtest/fairtest/internal/llm/prompts"
	"github.com/fairtest/fairtest/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNotManual is returned when a suggestion is requested for a question
// the evaluator grades by itself.
var ErrNotManual = errors.New("question is graded automatically")

// Suggestion is an advisory score for one manual-grading question.
type Suggestion struct {
	QuestionID string  `json:"questionId"`
	Score      float64 `json:"score"`
	MaxMarks   float64 `json:"maxMarks"`
	Feedback   string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client. An unknown variant falls back to standard.
func New(baseURL, apiKey, modelName, variant string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	v := prompts.PromptVariant(variant)
	if !prompts.IsValidVariant(variant) {
		v = prompts.PromptStandard
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: v,
	}
}

// Ping checks that the endpoint answers a model listing request.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// SuggestScore asks the model for a score and short feedback on one answer.
// The returned score is always within [0, question.Marks].
func (c *Client) SuggestScore(ctx context.Context, question model.Question, answer any) (*Suggestion, error) {
	switch question.Kind() {
	case model.KindShortAnswer, model.KindEssay, model.KindUnknown:
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotManual, question.ID)
	}

	prompt, err := prompts.BuildSuggestPrompt(c.variant, question, answer)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question_id", question.ID, "raw", raw)

	s, err := parseSuggestion(raw, question.Marks)
	if err != nil {
		return nil, err
	}
	s.QuestionID = question.ID
	return s, nil
}

func parseSuggestion(raw string, maxMarks float64) (*Suggestion, error) {
	var out struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	score := out.Score
	if math.IsNaN(score) || score < 0 {
		score = 0
	}
	if maxMarks < 0 {
		maxMarks = 0
	}
	if score > maxMarks {
		score = maxMarks
	}
	return &Suggestion{Score: score, MaxMarks: maxMarks, Feedback: out.Feedback}, nil
}
