package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/fairtest/fairtest/internal/model"
)

func TestAuditPrivacy(t *testing.T) {
	clean := model.SubmissionPayload{
		FinalHash:  strings.Repeat("ab", 32),
		ExamID:     "exam-1",
		AnswerHash: strings.Repeat("cd", 32),
		Timestamp:  1700000000000,
	}

	tests := []struct {
		name       string
		data       any
		wallet     string
		wantPassed bool
		wantFound  bool
	}{
		{"clean payload", clean, testWallet, true, false},
		{"wallet in examId", model.SubmissionPayload{FinalHash: clean.FinalHash, ExamID: testWallet}, testWallet, false, true},
		{"lower-cased wallet in field", model.SubmissionPayload{FinalHash: strings.ToLower(testWallet)}, testWallet, false, true},
		{"upper-cased wallet in field", model.SubmissionPayload{AnswerHash: strings.ToUpper(testWallet)}, testWallet, false, true},
		{"wallet in nested map", map[string]any{"meta": map[string]any{"from": testWallet}}, strings.ToUpper(testWallet), false, true},
		{"empty wallet fails closed", clean, "", false, false},
		{"unencodable data", map[string]any{"c": make(chan int)}, testWallet, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AuditPrivacy(tt.data, tt.wallet)
			if got.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", got.Passed, tt.wantPassed)
			}
			if got.FoundInData != tt.wantFound {
				t.Errorf("FoundInData = %v, want %v", got.FoundInData, tt.wantFound)
			}
		})
	}
}

func TestGate(t *testing.T) {
	if err := Gate(model.SubmissionPayload{ExamID: "exam-1"}, testWallet); err != nil {
		t.Errorf("Gate on clean data: %v", err)
	}
	err := Gate(model.SubmissionPayload{ExamID: testWallet}, testWallet)
	if !errors.Is(err, ErrPrivacyViolation) {
		t.Errorf("expected ErrPrivacyViolation, got %v", err)
	}
	err = Gate(model.SubmissionPayload{ExamID: "exam-1"}, "")
	if !errors.Is(err, ErrPrivacyViolation) {
		t.Errorf("expected ErrPrivacyViolation for empty wallet, got %v", err)
	}
}

func TestVerifyIdentitySeparation(t *testing.T) {
	payment := map[string]any{"wallet": testWallet, "amount": 1.5}

	tests := []struct {
		name          string
		payment       map[string]any
		exam          any
		wantSeparated bool
		wantExamHas   bool
	}{
		{"separated", payment, model.SubmissionPayload{FinalHash: strings.Repeat("ab", 32)}, true, false},
		{"exam leaks wallet", payment, map[string]any{"owner": strings.ToLower(testWallet)}, false, true},
		{"payment without wallet", map[string]any{"amount": 1}, map[string]any{"x": 1}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyIdentitySeparation(tt.payment, tt.exam)
			if got.Separated != tt.wantSeparated {
				t.Errorf("Separated = %v, want %v", got.Separated, tt.wantSeparated)
			}
			if got.ExamHasWallet != tt.wantExamHas {
				t.Errorf("ExamHasWallet = %v, want %v", got.ExamHasWallet, tt.wantExamHas)
			}
		})
	}
}
