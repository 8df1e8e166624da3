package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fairtest/fairtest/internal/ledger"
	"github.com/fairtest/fairtest/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestExam(t *testing.T, s *Store) model.Exam {
	t.Helper()
	exam := model.Exam{
		Title:         "Go basics",
		PassThreshold: 50,
		Questions: []model.Question{
			{ID: "q1", Type: "mcq", Text: "Pick B", Options: []string{"A", "B"}, CorrectAnswer: "B", Marks: 5},
			{ID: "q2", Type: "short_answer", Text: "Explain goroutines", Marks: 5},
		},
	}
	id, err := s.StoreExam(context.Background(), exam)
	if err != nil {
		t.Fatalf("StoreExam: %v", err)
	}
	exam.ID = id
	return exam
}

func insertTestSubmission(t *testing.T, s *Store, examID, finalHash string) string {
	t.Helper()
	id, err := s.StoreSubmission(context.Background(), model.Submission{
		Payload: model.SubmissionPayload{
			FinalHash:  finalHash,
			ExamID:     examID,
			AnswerHash: strings.Repeat("cd", 32),
			Timestamp:  1700000000000,
		},
		Answers:   model.Answers{"q1": "B", "q2": "lightweight threads"},
		TimeTaken: 600,
	})
	if err != nil {
		t.Fatalf("StoreSubmission: %v", err)
	}
	return id
}

func TestExamCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exams, err := s.ListExams(ctx)
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 0 {
		t.Fatalf("expected no exams, got %d", len(exams))
	}

	exam := insertTestExam(t, s)
	if !strings.HasPrefix(exam.ID, "exam_") {
		t.Errorf("expected generated id with exam_ prefix, got %q", exam.ID)
	}

	got, err := s.GetExam(ctx, exam.ID)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if got.Title != "Go basics" {
		t.Errorf("expected title 'Go basics', got %q", got.Title)
	}
	if got.TotalMarks != 10 {
		t.Errorf("expected totalMarks 10, got %v", got.TotalMarks)
	}
	if got.Status != model.ExamActive {
		t.Errorf("expected status active, got %q", got.Status)
	}
	if len(got.Questions) != 2 || got.Questions[0].CorrectAnswer != "B" {
		t.Errorf("questions not round-tripped: %+v", got.Questions)
	}

	// Not found.
	_, err = s.GetExam(ctx, "missing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Duplicate id.
	_, err = s.StoreExam(ctx, model.Exam{ID: exam.ID, Title: "again"})
	if !errors.Is(err, ledger.ErrWrite) {
		t.Errorf("expected ErrWrite on duplicate id, got %v", err)
	}

	if err := s.SetExamStatus(ctx, exam.ID, model.ExamClosed); err != nil {
		t.Fatalf("SetExamStatus: %v", err)
	}
	got, _ = s.GetExam(ctx, exam.ID)
	if got.Status != model.ExamClosed {
		t.Errorf("expected status closed, got %q", got.Status)
	}
	if err := s.SetExamStatus(ctx, "missing", model.ExamClosed); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam := insertTestExam(t, s)
	finalHash := strings.Repeat("ab", 32)

	subID := insertTestSubmission(t, s, exam.ID, finalHash)
	if !strings.HasPrefix(subID, "sub_") {
		t.Errorf("expected generated id with sub_ prefix, got %q", subID)
	}

	sub, err := s.GetSubmission(ctx, subID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub.Status != model.SubmissionPending {
		t.Errorf("expected pending status, got %q", sub.Status)
	}
	if sub.Payload.FinalHash != finalHash || sub.Payload.ExamID != exam.ID {
		t.Errorf("payload not round-tripped: %+v", sub.Payload)
	}
	if sub.Answers["q1"] != "B" {
		t.Errorf("answers not round-tripped: %v", sub.Answers)
	}
	if sub.TimeTaken != 600 {
		t.Errorf("expected timeTaken 600, got %d", sub.TimeTaken)
	}

	_, err = s.GetSubmission(ctx, "sub_missing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	pending, err := s.GetPendingSubmissions(ctx, exam.ID)
	if err != nil {
		t.Fatalf("GetPendingSubmissions: %v", err)
	}
	if len(pending) != 1 || pending[0].SubmissionID != subID || pending[0].FinalHash != finalHash {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	other, err := s.GetPendingSubmissions(ctx, "other-exam")
	if err != nil {
		t.Fatalf("GetPendingSubmissions: %v", err)
	}
	if other == nil || len(other) != 0 {
		t.Errorf("expected empty non-nil list, got %v", other)
	}
}

func TestStoreResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam := insertTestExam(t, s)
	studentHash := strings.Repeat("ab", 32)
	subID := insertTestSubmission(t, s, exam.ID, studentHash)

	record := model.ResultRecord{
		SubmissionID:       subID,
		ExamID:             exam.ID,
		StudentFinalHash:   studentHash,
		EvaluatorFinalHash: strings.Repeat("ef", 32),
		Score:              9,
		MaxScore:           10,
		Percentage:         90,
		Passed:             true,
		Feedback:           "good",
		QuestionScores: []model.QuestionScore{
			{QuestionID: "q1", Score: 5, MaxMarks: 5, Correct: true, AutoGraded: true, Reason: model.ReasonCorrect},
			{QuestionID: "q2", Score: 4, MaxMarks: 5, Reason: model.ReasonManual},
		},
	}
	resultID, err := s.StoreResult(ctx, record)
	if err != nil {
		t.Fatalf("StoreResult: %v", err)
	}
	if !strings.HasPrefix(resultID, "result_") {
		t.Errorf("expected generated id with result_ prefix, got %q", resultID)
	}

	sub, _ := s.GetSubmission(ctx, subID)
	if sub.Status != model.SubmissionEvaluated || sub.ResultID != resultID {
		t.Errorf("submission not marked evaluated: %+v", sub)
	}
	pending, _ := s.GetPendingSubmissions(ctx, exam.ID)
	if len(pending) != 0 {
		t.Errorf("expected no pending submissions, got %d", len(pending))
	}

	// Second result for the same submission.
	_, err = s.StoreResult(ctx, record)
	if !errors.Is(err, ledger.ErrAlreadyEvaluated) {
		t.Errorf("expected ErrAlreadyEvaluated, got %v", err)
	}

	// Unknown submission.
	record.SubmissionID = "sub_missing"
	_, err = s.StoreResult(ctx, record)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	results, err := s.GetStudentResults(ctx, studentHash)
	if err != nil {
		t.Fatalf("GetStudentResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.ID != resultID || r.Percentage != 90 || !r.Passed || r.Feedback != "good" {
		t.Errorf("result not round-tripped: %+v", r)
	}
	if len(r.QuestionScores) != 2 || r.QuestionScores[1].Reason != model.ReasonManual {
		t.Errorf("question scores not round-tripped: %+v", r.QuestionScores)
	}

	none, err := s.GetStudentResults(ctx, strings.Repeat("00", 32))
	if err != nil {
		t.Fatalf("GetStudentResults: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no results for unknown hash, got %d", len(none))
	}
}

func TestGetExamStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam := insertTestExam(t, s)

	stats, err := s.GetExamStats(ctx, exam.ID)
	if err != nil {
		t.Fatalf("GetExamStats: %v", err)
	}
	if stats != (model.ExamStats{}) {
		t.Errorf("expected zero stats, got %+v", stats)
	}

	percentages := []int{90, 35, 61}
	for i, pct := range percentages {
		hash := strings.Repeat(string(rune('a'+i)), 64)
		subID := insertTestSubmission(t, s, exam.ID, hash)
		_, err := s.StoreResult(ctx, model.ResultRecord{
			SubmissionID:     subID,
			ExamID:           exam.ID,
			StudentFinalHash: hash,
			Percentage:       pct,
			Passed:           pct >= 50,
		})
		if err != nil {
			t.Fatalf("StoreResult: %v", err)
		}
	}
	insertTestSubmission(t, s, exam.ID, strings.Repeat("f", 64))

	stats, err = s.GetExamStats(ctx, exam.ID)
	if err != nil {
		t.Fatalf("GetExamStats: %v", err)
	}
	want := model.ExamStats{TotalSubmissions: 4, Evaluated: 3, Pending: 1, Passed: 2, Failed: 1, AvgScore: 62}
	if stats != want {
		t.Errorf("expected %+v, got %+v", want, stats)
	}
}

func TestLocalIdentityStore(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get("fairtest_uid_exam-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss on empty store")
	}

	if err := s.Put("fairtest_uid_exam-1", []byte(`{"uid":"a"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("fairtest_uid_exam-1", []byte(`{"uid":"b"}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	v, ok, err := s.Get("fairtest_uid_exam-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(v) != `{"uid":"b"}` {
		t.Errorf("expected overwritten value, got %s", v)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "fairtest_uid_exam-1" {
		t.Errorf("expected one key, got %v", keys)
	}
}

func TestOperatorCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.OperatorCount(ctx)
	if err != nil {
		t.Fatalf("OperatorCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 operators, got %d", count)
	}

	id, err := s.CreateOperator(ctx, model.Operator{
		Username:     "grader",
		DisplayName:  "Grader One",
		PasswordHash: "hash",
		Role:         model.RoleEvaluator,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateOperator: %v", err)
	}

	_, err = s.CreateOperator(ctx, model.Operator{Username: "grader", PasswordHash: "x", Role: model.RoleAdmin})
	if !errors.Is(err, ErrDuplicateOperator) {
		t.Errorf("expected ErrDuplicateOperator, got %v", err)
	}

	op, err := s.GetOperatorByUsername(ctx, "grader")
	if err != nil {
		t.Fatalf("GetOperatorByUsername: %v", err)
	}
	if op == nil || op.ID != id || op.Role != model.RoleEvaluator || !op.Active {
		t.Fatalf("unexpected operator: %+v", op)
	}

	missing, err := s.GetOperatorByUsername(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetOperatorByUsername: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown username, got %+v", missing)
	}

	token, err := s.CreateAuthSession(ctx, id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if err := s.ToggleOperatorActive(ctx, id); err != nil {
		t.Fatalf("ToggleOperatorActive: %v", err)
	}
	op, _ = s.GetOperatorByID(ctx, id)
	if op.Active {
		t.Error("expected operator to be inactive")
	}
	sess, _ := s.GetAuthSession(ctx, token)
	if sess != nil {
		t.Error("expected tokens of a deactivated operator to be dropped")
	}

	if err := s.ToggleOperatorActive(ctx, id); err != nil {
		t.Fatalf("ToggleOperatorActive: %v", err)
	}
	op, _ = s.GetOperatorByID(ctx, id)
	if !op.Active {
		t.Error("expected operator to be active again")
	}

	ops, err := s.ListOperators(ctx)
	if err != nil {
		t.Fatalf("ListOperators: %v", err)
	}
	if len(ops) != 1 {
		t.Errorf("expected 1 operator, got %d", len(ops))
	}
}

func TestAuthSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token, err := s.CreateAuthSession(ctx, 7)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("expected 64-char token, got %d", len(token))
	}

	sess, err := s.GetAuthSession(ctx, token)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess == nil || sess.OperatorID != 7 {
		t.Fatalf("unexpected session: %+v", sess)
	}

	if err := s.DeleteAuthSession(ctx, token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	sess, _ = s.GetAuthSession(ctx, token)
	if sess != nil {
		t.Error("expected nil session after delete")
	}
}

func TestImportedFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	examID, err := s.FindImport(ctx, "abc123")
	if err != nil {
		t.Fatalf("FindImport: %v", err)
	}
	if examID != "" {
		t.Errorf("expected empty exam id, got %q", examID)
	}

	if err := s.RecordImport(ctx, "abc123", "midterm.json", "exam-1"); err != nil {
		t.Fatalf("RecordImport: %v", err)
	}
	examID, _ = s.FindImport(ctx, "abc123")
	if examID != "exam-1" {
		t.Errorf("expected exam-1, got %q", examID)
	}
}

func TestExportResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam := insertTestExam(t, s)
	hash := strings.Repeat("ab", 32)
	subID := insertTestSubmission(t, s, exam.ID, hash)
	if _, err := s.StoreResult(ctx, model.ResultRecord{
		SubmissionID: subID, ExamID: exam.ID, StudentFinalHash: hash, Percentage: 70, Passed: true,
	}); err != nil {
		t.Fatalf("StoreResult: %v", err)
	}

	export, err := s.ExportResults(ctx, exam.ID)
	if err != nil {
		t.Fatalf("ExportResults: %v", err)
	}
	if export.Title != "Go basics" || export.NumQuestions != 2 || export.PassThreshold != 50 {
		t.Errorf("unexpected export header: %+v", export)
	}
	if len(export.Results) != 1 || export.Results[0].StudentFinalHash != hash {
		t.Errorf("unexpected export results: %+v", export.Results)
	}
	if export.Stats.Evaluated != 1 {
		t.Errorf("expected 1 evaluated, got %d", export.Stats.Evaluated)
	}

	_, err = s.ExportResults(ctx, "missing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
