// Package fairtest assembles the anonymous identity chain, the ledger and
// the evaluator into the student and evaluator workflows.
//
// The wallet address passed into this package is used only to audit what is
// about to be written. It is never stored, never logged in full and never
// sent to the ledger.
package fairtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/fairtest/fairtest/internal/evaluator"
	"github.com/fairtest/fairtest/internal/identity"
	"github.com/fairtest/fairtest/internal/ledger"
	"github.com/fairtest/fairtest/internal/model"
)

var (
	// ErrWalletNotConnected is returned when an operation needs a wallet
	// address and none was supplied.
	ErrWalletNotConnected = errors.New("wallet not connected")
	// ErrAnswerTampered means a stored answer sheet no longer matches the
	// answerHash recorded with it.
	ErrAnswerTampered = errors.New("answer sheet does not match its answer hash")
	// ErrInvalidExam is returned by PublishExam for an exam that cannot be
	// graded consistently.
	ErrInvalidExam = errors.New("invalid exam")
	// ErrExamClosed is returned when a closed exam is started or submitted.
	ErrExamClosed = errors.New("exam is closed")
	// ErrNoLocalIdentity means there is no stored identity for an exam, so
	// its results cannot be looked up.
	ErrNoLocalIdentity = errors.New("no local identity for exam")
)

// Service runs the exam workflows. It holds no per-request state.
type Service struct {
	ids           *identity.Manager
	ledger        ledger.Ledger
	passThreshold int
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPassThreshold sets the pass percentage used for exams that define none.
func WithPassThreshold(p int) Option {
	return func(s *Service) { s.passThreshold = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(ids *identity.Manager, l ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		ids:           ids,
		ledger:        l,
		passThreshold: evaluator.DefaultPassThreshold,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForDevice returns a Service whose local identities are private to
// device. Servers that act as the local store for many browsers give each
// of them its own device token and route every student call through here.
func (s *Service) ForDevice(device string) *Service {
	c := *s
	c.ids = s.ids.ForDevice(device)
	return &c
}

// SubmissionReceipt is returned to the student after a submission.
type SubmissionReceipt struct {
	SubmissionID string `json:"submissionId"`
	FinalHash    string `json:"finalHash"`
	AnswerHash   string `json:"answerHash"`
	// IdentityStored is false when the local identity could not be
	// persisted. The submission is valid but its result can only be found
	// with the FINAL_HASH above.
	IdentityStored bool `json:"identityStored"`
}

// ResultReceipt is returned to the evaluator after a result is published.
type ResultReceipt struct {
	ResultID           string            `json:"resultId"`
	StudentFinalHash   string            `json:"studentFinalHash"`
	EvaluatorFinalHash string            `json:"evaluatorFinalHash"`
	Passed             bool              `json:"passed"`
	Final              model.FinalResult `json:"final"`
}

// StudentResult is a result enriched with the exam it belongs to.
type StudentResult struct {
	model.ResultRecord
	ExamTitle      string  `json:"examTitle"`
	ExamTotalMarks float64 `json:"examTotalMarks"`
}

// Review bundles what an evaluator needs to grade one submission.
type Review struct {
	Submission model.Submission     `json:"submission"`
	Exam       model.Exam           `json:"exam"`
	Auto       model.AutoEvalResult `json:"auto"`
}

func requireWallet(wallet string) error {
	if strings.TrimSpace(wallet) == "" {
		return ErrWalletNotConnected
	}
	return nil
}

// Exam returns an exam with its answer key removed.
func (s *Service) Exam(ctx context.Context, examID string) (model.Exam, error) {
	exam, err := s.ledger.GetExam(ctx, examID)
	if err != nil {
		return model.Exam{}, err
	}
	return exam.ForStudents(), nil
}

func (s *Service) activeExam(ctx context.Context, examID string) (model.Exam, error) {
	exam, err := s.ledger.GetExam(ctx, examID)
	if err != nil {
		return model.Exam{}, err
	}
	if exam.Status == model.ExamClosed {
		return model.Exam{}, fmt.Errorf("%w: %s", ErrExamClosed, examID)
	}
	return exam, nil
}

// BeginExam creates a fresh identity for examID and stores it locally. If
// only the local store fails, the identity is returned together with an
// error wrapping identity.ErrStorageUnavailable.
func (s *Service) BeginExam(ctx context.Context, wallet, examID string) (model.ExamIdentity, error) {
	if err := requireWallet(wallet); err != nil {
		return model.ExamIdentity{}, err
	}
	if _, err := s.activeExam(ctx, examID); err != nil {
		return model.ExamIdentity{}, err
	}
	id, err := s.ids.GenerateExamIdentity(wallet, examID)
	if err != nil {
		return model.ExamIdentity{}, err
	}
	if err := s.ids.StoreUIDLocally(id); err != nil {
		slog.Warn("exam identity not stored locally", "exam_id", examID, "error", err)
		return id, err
	}
	slog.Info("exam started", "exam_id", examID, "final_hash", short(id.FinalHash))
	return id, nil
}

// Identity returns the locally stored identity for examID, or nil.
func (s *Service) Identity(examID string) (*model.ExamIdentity, error) {
	return s.ids.RecoverUID(examID)
}

// SubmitExam records answers for examID under the student's FINAL_HASH.
// The identity is recovered from the local store if this wallet created it,
// and generated on the spot otherwise. Both the payload and the answer sheet are audited against wallet before
// anything is written.
func (s *Service) SubmitExam(ctx context.Context, wallet, examID string, answers model.Answers, timeTaken int64) (SubmissionReceipt, error) {
	if err := requireWallet(wallet); err != nil {
		return SubmissionReceipt{}, err
	}
	if _, err := s.activeExam(ctx, examID); err != nil {
		return SubmissionReceipt{}, err
	}
	if answers == nil {
		answers = model.Answers{}
	}

	stored := true
	id, err := s.ids.RecoverUIDFor(examID, wallet)
	if err != nil {
		slog.Warn("could not recover exam identity, generating a new one", "exam_id", examID, "error", err)
		id = nil
	}
	if id == nil {
		fresh, err := s.ids.GenerateExamIdentity(wallet, examID)
		if err != nil {
			return SubmissionReceipt{}, err
		}
		if err := s.ids.StoreUIDLocally(fresh); err != nil {
			slog.Warn("exam identity not stored locally", "exam_id", examID, "error", err)
			stored = false
		}
		id = &fresh
	}

	payload, err := s.ids.CreateSubmissionPayload(*id, examID, answers)
	if err != nil {
		return SubmissionReceipt{}, err
	}
	if err := identity.Gate(payload, wallet); err != nil {
		return SubmissionReceipt{}, err
	}
	if err := identity.Gate(answers, wallet); err != nil {
		return SubmissionReceipt{}, err
	}

	subID, err := s.ledger.StoreSubmission(ctx, model.Submission{
		Payload:     payload,
		Answers:     answers,
		TimeTaken:   timeTaken,
		Status:      model.SubmissionPending,
		SubmittedAt: s.now().UnixMilli(),
	})
	if err != nil {
		return SubmissionReceipt{}, err
	}

	slog.Info("submission recorded", "exam_id", examID, "submission_id", subID, "final_hash", short(payload.FinalHash))
	return SubmissionReceipt{
		SubmissionID:   subID,
		FinalHash:      payload.FinalHash,
		AnswerHash:     payload.AnswerHash,
		IdentityStored: stored,
	}, nil
}

// PendingSubmissions lists submissions of examID awaiting evaluation.
func (s *Service) PendingSubmissions(ctx context.Context, examID string) ([]model.PendingSubmission, error) {
	return s.ledger.GetPendingSubmissions(ctx, examID)
}

// ReviewSubmission loads a submission with its exam and verifies the answer
// sheet against the recorded answer hash before auto-grading it.
func (s *Service) ReviewSubmission(ctx context.Context, submissionID string) (Review, error) {
	sub, err := s.ledger.GetSubmission(ctx, submissionID)
	if err != nil {
		return Review{}, err
	}
	exam, err := s.ledger.GetExam(ctx, sub.Payload.ExamID)
	if err != nil {
		return Review{}, err
	}
	got, err := s.ids.AnswerHash(sub.Answers)
	if err != nil {
		return Review{}, err
	}
	if got != sub.Payload.AnswerHash {
		slog.Warn("answer hash mismatch", "submission_id", submissionID,
			"recorded", short(sub.Payload.AnswerHash), "computed", short(got))
		return Review{}, fmt.Errorf("%w: submission %s", ErrAnswerTampered, submissionID)
	}
	return Review{
		Submission: sub,
		Exam:       exam,
		Auto:       evaluator.EvaluateExam(exam.Questions, sub.Answers),
	}, nil
}

// AutoEvaluate grades the objective questions of a submission.
func (s *Service) AutoEvaluate(ctx context.Context, submissionID string) (model.AutoEvalResult, error) {
	review, err := s.ReviewSubmission(ctx, submissionID)
	if err != nil {
		return model.AutoEvalResult{}, err
	}
	return review.Auto, nil
}

// PublishResult merges manual scores into the auto evaluation of a
// submission and writes the result. The evaluator is represented on the
// ledger by a FINAL_HASH derived for the key eval_<submissionId>.
func (s *Service) PublishResult(ctx context.Context, evaluatorWallet, submissionID string, manual map[string]float64, feedback string) (ResultReceipt, error) {
	if err := requireWallet(evaluatorWallet); err != nil {
		return ResultReceipt{}, err
	}
	review, err := s.ReviewSubmission(ctx, submissionID)
	if err != nil {
		return ResultReceipt{}, err
	}
	if review.Submission.Status == model.SubmissionEvaluated {
		return ResultReceipt{}, fmt.Errorf("%w: %s", ledger.ErrAlreadyEvaluated, submissionID)
	}

	evalID, err := s.ids.GenerateExamIdentity(evaluatorWallet, "eval_"+submissionID)
	if err != nil {
		return ResultReceipt{}, err
	}

	final := evaluator.MergeFinalScore(review.Auto, manual)
	threshold := review.Exam.PassThreshold
	if threshold <= 0 {
		threshold = s.passThreshold
	}
	passed := evaluator.Passed(final, threshold)

	record := model.ResultRecord{
		SubmissionID:       submissionID,
		ExamID:             review.Exam.ID,
		StudentFinalHash:   review.Submission.Payload.FinalHash,
		EvaluatorFinalHash: evalID.FinalHash,
		Score:              final.TotalScore,
		MaxScore:           final.MaxScore,
		Percentage:         final.Percentage,
		Passed:             passed,
		Feedback:           feedback,
		QuestionScores:     final.QuestionScores,
		EvaluatedAt:        s.now().UnixMilli(),
	}
	if err := identity.Gate(record, evaluatorWallet); err != nil {
		return ResultReceipt{}, err
	}

	resultID, err := s.ledger.StoreResult(ctx, record)
	if err != nil {
		return ResultReceipt{}, err
	}

	slog.Info("result published",
		"submission_id", submissionID,
		"result_id", resultID,
		"percentage", final.Percentage,
		"passed", passed,
		"evaluator_final_hash", short(evalID.FinalHash),
	)
	return ResultReceipt{
		ResultID:           resultID,
		StudentFinalHash:   record.StudentFinalHash,
		EvaluatorFinalHash: record.EvaluatorFinalHash,
		Passed:             passed,
		Final:              final,
	}, nil
}

// MyResult returns the results for examID recorded under the locally
// stored FINAL_HASH.
func (s *Service) MyResult(ctx context.Context, examID string) ([]StudentResult, error) {
	id, err := s.ids.RecoverUID(examID)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoLocalIdentity, examID)
	}
	return s.resultsFor(ctx, *id)
}

// MyResults returns results for every identity in the local store.
func (s *Service) MyResults(ctx context.Context) ([]StudentResult, error) {
	ids, err := s.ids.RecoverAll()
	if err != nil {
		return nil, err
	}
	out := []StudentResult{}
	for _, id := range ids {
		rs, err := s.resultsFor(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

func (s *Service) resultsFor(ctx context.Context, id model.ExamIdentity) ([]StudentResult, error) {
	records, err := s.ledger.GetStudentResults(ctx, id.FinalHash)
	if err != nil {
		return nil, err
	}
	out := []StudentResult{}
	for _, r := range records {
		if r.ExamID != id.ExamID {
			continue
		}
		sr := StudentResult{ResultRecord: r}
		exam, err := s.ledger.GetExam(ctx, r.ExamID)
		switch {
		case err == nil:
			sr.ExamTitle = exam.Title
			sr.ExamTotalMarks = exam.TotalMarks
		case errors.Is(err, ledger.ErrNotFound):
		default:
			return nil, err
		}
		out = append(out, sr)
	}
	return out, nil
}

// PublishExam validates and stores an exam.
func (s *Service) PublishExam(ctx context.Context, exam model.Exam) (string, error) {
	if err := ValidateExam(exam); err != nil {
		return "", err
	}
	exam.TotalMarks = model.SumMarks(exam.Questions)
	exam.Status = model.ExamActive
	if exam.CreatedAt == 0 {
		exam.CreatedAt = s.now().UnixMilli()
	}
	id, err := s.ledger.StoreExam(ctx, exam)
	if err != nil {
		return "", err
	}
	slog.Info("exam published", "exam_id", id, "questions", len(exam.Questions), "total_marks", exam.TotalMarks)
	return id, nil
}

// ValidateExam checks that every question has a unique id and positive
// marks, and that multiple_correct questions have a correct set.
func ValidateExam(exam model.Exam) error {
	if strings.TrimSpace(exam.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidExam)
	}
	if len(exam.Questions) == 0 {
		return fmt.Errorf("%w: at least one question is required", ErrInvalidExam)
	}
	if exam.PassThreshold < 0 || exam.PassThreshold > 100 {
		return fmt.Errorf("%w: pass threshold %d out of range", ErrInvalidExam, exam.PassThreshold)
	}
	seen := make(map[string]bool, len(exam.Questions))
	for i, q := range exam.Questions {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return fmt.Errorf("%w: question %d has no id", ErrInvalidExam, i+1)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidExam, id)
		}
		seen[id] = true
		if !(q.Marks > 0) || math.IsInf(q.Marks, 0) {
			return fmt.Errorf("%w: question %q must have positive marks", ErrInvalidExam, id)
		}
		if q.Kind() == model.KindMultipleCorrect && len(q.CorrectAnswers) == 0 {
			if list, ok := q.CorrectAnswer.([]any); !ok || len(list) == 0 {
				return fmt.Errorf("%w: question %q needs at least one correct answer", ErrInvalidExam, id)
			}
		}
	}
	return nil
}

// CloseExam stops accepting submissions for an exam when the ledger
// supports it.
func (s *Service) CloseExam(ctx context.Context, examID string) error {
	closer, ok := s.ledger.(interface {
		SetExamStatus(context.Context, string, model.ExamStatus) error
	})
	if !ok {
		return errors.ErrUnsupported
	}
	return closer.SetExamStatus(ctx, examID, model.ExamClosed)
}

// ExamStats returns submission and result counts for examID.
func (s *Service) ExamStats(ctx context.Context, examID string) (model.ExamStats, error) {
	return s.ledger.GetExamStats(ctx, examID)
}

func short(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}
