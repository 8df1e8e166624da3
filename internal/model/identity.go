package model

// ExamIdentity is the per-exam anonymous identity of a student or evaluator.
//
// Only FinalHash ever leaves the device. WalletAddress and Salt are kept in
// memory for the lifetime of the call chain and are never serialized.
type ExamIdentity struct {
	UID           string `json:"uid"`
	UIDHash       string `json:"uidHash"`
	FinalHash     string `json:"finalHash"`
	ExamID        string `json:"examId"`
	WalletAddress string `json:"-"`
	Timestamp     int64  `json:"timestamp"`
	Salt          string `json:"-"`
}

// SubmissionPayload is the anonymized record handed to the ledger.
type SubmissionPayload struct {
	FinalHash  string `json:"finalHash"`
	ExamID     string `json:"examId"`
	AnswerHash string `json:"answerHash"`
	Timestamp  int64  `json:"timestamp"`
}

// AuditReport is the outcome of a privacy audit.
type AuditReport struct {
	Passed      bool `json:"passed"`
	FoundInData bool `json:"foundInData"`
}

// SeparationReport is the outcome of an identity separation check.
type SeparationReport struct {
	Separated        bool `json:"separated"`
	PaymentHasWallet bool `json:"paymentHasWallet"`
	ExamHasWallet    bool `json:"examHasWallet"`
}
