package model

// ScoreReason explains how a question score was reached.
type ScoreReason string

const (
	ReasonCorrect            ScoreReason = "correct"
	ReasonWrong              ScoreReason = "wrong"
	ReasonUnanswered         ScoreReason = "unanswered"
	ReasonNeedsManual        ScoreReason = "needs_manual_grading"
	ReasonMalformedAnswerKey ScoreReason = "malformed_answer_key"
	ReasonUnknownType        ScoreReason = "unknown_type"
	ReasonManual             ScoreReason = "manual"
)

// QuestionScore is the per-question entry of an evaluation.
type QuestionScore struct {
	QuestionID string      `json:"questionId"`
	Score      float64     `json:"score"`
	MaxMarks   float64     `json:"maxMarks"`
	Correct    bool        `json:"correct"`
	AutoGraded bool        `json:"autoGraded"`
	Reason     ScoreReason `json:"reason"`
}

// AutoEvalResult is the output of the auto evaluator.
type AutoEvalResult struct {
	TotalScore     float64         `json:"totalScore"`
	MaxScore       float64         `json:"maxScore"`
	QuestionScores []QuestionScore `json:"questionScores"`
	AutoGraded     []string        `json:"autoGraded"`
	ManualGrading  []string        `json:"manualGrading"`
}

// FinalResult is an evaluation after manual scores were merged.
type FinalResult struct {
	TotalScore     float64         `json:"totalScore"`
	MaxScore       float64         `json:"maxScore"`
	Percentage     int             `json:"percentage"`
	QuestionScores []QuestionScore `json:"questionScores"`
}

// SubmissionStatus tracks a submission on the ledger.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending_evaluation"
	SubmissionEvaluated SubmissionStatus = "evaluated"
)

// Submission is what the ledger keeps for a student's answer sheet: the
// anonymized payload, the answers it hashes, and bookkeeping.
type Submission struct {
	ID          string            `json:"submissionId"`
	Payload     SubmissionPayload `json:"payload"`
	Answers     Answers           `json:"answers"`
	TimeTaken   int64             `json:"timeTaken,omitempty"`
	Status      SubmissionStatus  `json:"status"`
	ResultID    string            `json:"resultId,omitempty"`
	SubmittedAt int64             `json:"submittedAt"`
}

// PendingSubmission is what an evaluator sees: no wallet, no UID.
type PendingSubmission struct {
	SubmissionID string  `json:"submissionId"`
	FinalHash    string  `json:"finalHash"`
	Answers      Answers `json:"answers"`
}

// ResultRecord is a final result keyed by both parties' FINAL_HASH.
type ResultRecord struct {
	ID                 string          `json:"resultId,omitempty"`
	SubmissionID       string          `json:"submissionId"`
	ExamID             string          `json:"examId"`
	StudentFinalHash   string          `json:"studentFinalHash"`
	EvaluatorFinalHash string          `json:"evaluatorFinalHash"`
	Score              float64         `json:"score"`
	MaxScore           float64         `json:"maxScore"`
	Percentage         int             `json:"percentage"`
	Passed             bool            `json:"passed"`
	Feedback           string          `json:"feedback,omitempty"`
	QuestionScores     []QuestionScore `json:"questionScores"`
	EvaluatedAt        int64           `json:"evaluatedAt"`
}

// ExamStats summarises the submissions and results of one exam.
type ExamStats struct {
	TotalSubmissions int     `json:"totalSubmissions"`
	Evaluated        int     `json:"evaluated"`
	Pending          int     `json:"pending"`
	Passed           int     `json:"passed"`
	Failed           int     `json:"failed"`
	AvgScore         float64 `json:"avgScore"`
}
