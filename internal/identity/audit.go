package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairtest/fairtest/internal/model"
)

// ErrPrivacyViolation means a wallet address was found in data bound for
// the ledger. The write must be aborted; the data must not be patched up.
var ErrPrivacyViolation = errors.New("privacy violation: wallet address found in ledger data")

// AuditPrivacy checks that walletAddress does not appear, case-insensitively,
// anywhere in the JSON encoding of data. An empty wallet or data that cannot
// be encoded fails the audit.
func AuditPrivacy(data any, walletAddress string) model.AuditReport {
	wallet := strings.ToLower(strings.TrimSpace(walletAddress))
	encoded, err := json.Marshal(data)
	if err != nil || wallet == "" {
		logAuditFailure(walletAddress, "unauditable")
		return model.AuditReport{Passed: false, FoundInData: false}
	}

	found := strings.Contains(strings.ToLower(string(encoded)), wallet)
	if found {
		logAuditFailure(walletAddress, "wallet_found")
	} else {
		slog.Debug("privacy audit passed")
	}
	return model.AuditReport{Passed: !found, FoundInData: found}
}

// Gate runs AuditPrivacy and turns a failure into ErrPrivacyViolation.
func Gate(data any, walletAddress string) error {
	report := AuditPrivacy(data, walletAddress)
	if report.Passed {
		return nil
	}
	if !report.FoundInData {
		return fmt.Errorf("%w: data could not be audited", ErrPrivacyViolation)
	}
	return ErrPrivacyViolation
}

// VerifyIdentitySeparation is a diagnostic: the payment record should carry
// wallet-like data and the exam record should not contain that wallet.
func VerifyIdentitySeparation(paymentData map[string]any, examData any) model.SeparationReport {
	paymentJSON, _ := json.Marshal(paymentData)
	paymentStr := string(paymentJSON)
	paymentHasWallet := strings.Contains(paymentStr, "wallet") || strings.Contains(paymentStr, "0x")

	examHasWallet := false
	if wallet, _ := paymentData["wallet"].(string); strings.TrimSpace(wallet) != "" {
		examJSON, _ := json.Marshal(examData)
		examHasWallet = strings.Contains(strings.ToLower(string(examJSON)), strings.ToLower(wallet))
	}

	report := model.SeparationReport{
		Separated:        paymentHasWallet && !examHasWallet,
		PaymentHasWallet: paymentHasWallet,
		ExamHasWallet:    examHasWallet,
	}
	slog.Debug("identity separation checked",
		"payment_has_wallet", report.PaymentHasWallet,
		"exam_has_wallet", report.ExamHasWallet,
		"separated", report.Separated,
	)
	return report
}

func logAuditFailure(walletAddress, reason string) {
	slog.Warn("privacy audit failed",
		"event", "PRIVACY_AUDIT_FAILED",
		"reason", reason,
		"wallet_prefix", walletPrefix(walletAddress),
	)
}

func walletPrefix(w string) string {
	if len(w) <= 6 {
		return strings.Repeat("*", len(w))
	}
	return w[:6] + "..."
}
