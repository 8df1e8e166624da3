package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/fairtest/fairtest/internal/model"
)

//go:embed suggest_*.txt
var files embed.FS

const maxAnswerRunes = 10000

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict is a strict grading variant for core courses.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is a lenient grading variant for electives.
	PromptLenient PromptVariant = "lenient"
)

var variants = []PromptVariant{PromptStrict, PromptStandard, PromptLenient}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if PromptVariant(v) == known {
			return true
		}
	}
	return false
}

// SuggestData holds template data for score suggestion prompts.
type SuggestData struct {
	QuestionType string
	QuestionText string
	MaxMarks     string
	Rubric       string
	ModelAnswer  string
	Answer       string
}

func load() error {
	loadOnce.Do(func() {
		templates = make(map[PromptVariant]*template.Template, len(variants))
		for _, v := range variants {
			name := "suggest_" + string(v) + ".txt"
			content, err := files.ReadFile(name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			templates[v] = tmpl
		}
	})
	return loadErr
}

// BuildSuggestPrompt renders the suggestion prompt for one answer.
func BuildSuggestPrompt(variant PromptVariant, question model.Question, answer any) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := SuggestData{
		QuestionType: string(question.Kind()),
		QuestionText: question.Text,
		MaxMarks:     strconv.FormatFloat(question.Marks, 'f', -1, 64),
		Rubric:       question.Rubric,
		ModelAnswer:  referenceAnswer(question),
		Answer:       SanitizeAnswer(AnswerText(answer)),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// AnswerText renders a decoded JSON answer as prompt text.
func AnswerText(answer any) string {
	switch v := answer.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := json.Marshal(answer)
	if err != nil {
		return fmt.Sprint(answer)
	}
	return string(b)
}

func referenceAnswer(q model.Question) string {
	if len(q.CorrectAnswers) > 0 {
		return strings.Join(q.CorrectAnswers, ", ")
	}
	return AnswerText(q.CorrectAnswer)
}

// SanitizeAnswer strips tags a student could use to break out of the answer
// block and truncates very long answers.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}
