package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fairtest/fairtest/internal/fairtest"
	"github.com/fairtest/fairtest/internal/handler/views"
	appI18n "github.com/fairtest/fairtest/internal/i18n"
	"github.com/fairtest/fairtest/internal/identity"
	"github.com/fairtest/fairtest/internal/ledger"
	"github.com/fairtest/fairtest/internal/llm"
	"github.com/fairtest/fairtest/internal/model"
	"github.com/fairtest/fairtest/internal/store"
)

// walletHeader carries the connected wallet address on student requests.
const walletHeader = "X-Wallet-Address"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type Handler struct {
	svc    *fairtest.Service
	store  *store.Store
	llm    *llm.Client
	config model.ServerConfig
}

// New creates a handler. l may be nil, in which case grading suggestions
// are disabled.
func New(svc *fairtest.Service, s *store.Store, l *llm.Client, cfg model.ServerConfig) *Handler {
	cfg.SuggestionsActive = l != nil
	return &Handler{svc: svc, store: s, llm: l, config: cfg}
}

// Routes registers all HTTP routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Post("/api/logout", h.handleLogout)

	r.Get("/api/languages", h.handleLanguages)

	// Students are anonymous. They present a wallet address, which is
	// audited against everything written on their behalf, and a device
	// token that keeps their local identities apart from everyone else's.
	r.Get("/api/exams/{examID}", h.handleGetExam)
	r.Post("/api/devices", h.handleNewDevice)
	r.Group(func(r chi.Router) {
		r.Use(h.requireDevice)
		r.Post("/api/exams/{examID}/identity", h.handleBeginExam)
		r.Get("/api/exams/{examID}/identity", h.handleGetIdentity)
		r.Post("/api/exams/{examID}/submissions", h.handleSubmit)
		r.Get("/api/exams/{examID}/my-result", h.handleMyResult)
		r.Get("/api/my-results", h.handleMyResults)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(requireRole(model.RoleEvaluator, model.RoleAdmin))
		r.Get("/api/exams/{examID}/pending", h.handlePending)
		r.Get("/api/exams/{examID}/stats", h.handleStats)
		r.Post("/api/submissions/{submissionID}/evaluate", h.handleEvaluate)
		r.Post("/api/submissions/{submissionID}/suggest", h.handleSuggest)
		r.Post("/api/submissions/{submissionID}/result", h.handlePublishResult)
		r.Get("/review/{submissionID}", h.handleReviewPage)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(requireRole(model.RoleCreator, model.RoleAdmin))
		r.Post("/api/admin/exams", h.handleUploadExam)
		r.Post("/api/admin/exams/{examID}/close", h.handleCloseExam)
		r.Get("/api/admin/exams/{examID}/export", h.handleExport)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(requireRole(model.RoleAdmin))
		r.Get("/api/admin/operators", h.handleListOperators)
		r.Post("/api/admin/operators", h.handleCreateOperator)
		r.Post("/api/admin/operators/{operatorID}/toggle", h.handleToggleOperator)
	})
}

// --- Student handlers ---

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.svc.Exam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

type walletRequest struct {
	WalletAddress string `json:"walletAddress"`
}

// identityView is what a device is shown of its identity. The UID and
// UID_HASH stay in the local store.
type identityView struct {
	FinalHash string `json:"finalHash"`
	ExamID    string `json:"examId"`
	Timestamp int64  `json:"timestamp"`
}

func viewOf(id model.ExamIdentity) identityView {
	return identityView{FinalHash: id.FinalHash, ExamID: id.ExamID, Timestamp: id.Timestamp}
}

type identityResponse struct {
	Identity identityView `json:"identity"`
	Stored   bool         `json:"stored"`
	Warning  string       `json:"warning,omitempty"`
}

func (h *Handler) handleBeginExam(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	examID := chi.URLParam(r, "examID")
	id, err := h.student(r).BeginExam(r.Context(), wallet(r, req.WalletAddress), examID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, identityResponse{Identity: viewOf(id), Stored: true})
	case errors.Is(err, identity.ErrStorageUnavailable):
		// The identity is valid; the student just has to keep the
		// FINAL_HASH themselves.
		writeJSON(w, http.StatusCreated, identityResponse{
			Identity: viewOf(id),
			Warning:  appI18n.T(r.Context(), "ErrStorageUnavailable"),
		})
	default:
		h.writeError(w, r, err)
	}
}

func (h *Handler) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	id, err := h.student(r).Identity(examID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id == nil {
		h.writeError(w, r, fairtest.ErrNoLocalIdentity)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*id))
}

type submitRequest struct {
	WalletAddress string        `json:"walletAddress"`
	Answers       model.Answers `json:"answers"`
	TimeTaken     int64         `json:"timeTaken"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	receipt, err := h.student(r).SubmitExam(r.Context(), wallet(r, req.WalletAddress),
		chi.URLParam(r, "examID"), req.Answers, req.TimeTaken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleMyResult(w http.ResponseWriter, r *http.Request) {
	results, err := h.student(r).MyResult(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleMyResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.student(r).MyResults(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleLanguages(w http.ResponseWriter, r *http.Request) {
	langs := []string{}
	for _, tag := range appI18n.Languages() {
		langs = append(langs, tag.String())
	}
	writeJSON(w, http.StatusOK, langs)
}

// --- Evaluator handlers ---

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.PendingSubmissions(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.ExamStats(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type evaluateResponse struct {
	model.AutoEvalResult
	Message string `json:"message"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	auto, err := h.svc.AutoEvaluate(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{
		AutoEvalResult: auto,
		Message:        appI18n.Tp(r.Context(), "NeedsManualGrading", len(auto.ManualGrading)),
	})
}

type suggestRequest struct {
	QuestionIDs []string `json:"questionIds"`
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if !h.config.SuggestionsActive {
		h.writeMessage(w, r, http.StatusNotImplemented, "suggestions_off", "ErrSuggestionsOff")
		return
	}
	var req suggestRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	review, err := h.svc.ReviewSubmission(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	wanted := make(map[string]bool, len(req.QuestionIDs))
	for _, id := range req.QuestionIDs {
		wanted[id] = true
	}
	manual := make(map[string]bool, len(review.Auto.ManualGrading))
	for _, id := range review.Auto.ManualGrading {
		manual[id] = true
	}

	suggestions := []llm.Suggestion{}
	for _, q := range review.Exam.Questions {
		if !manual[q.ID] || (len(wanted) > 0 && !wanted[q.ID]) {
			continue
		}
		s, err := h.llm.SuggestScore(r.Context(), q, review.Submission.Answers[q.ID])
		if err != nil {
			slog.Error("grading suggestion failed", "submission_id", review.Submission.ID, "question_id", q.ID, "error", err)
			h.writeMessage(w, r, http.StatusBadGateway, "suggestion_failed", "ErrInternal")
			return
		}
		suggestions = append(suggestions, *s)
	}
	writeJSON(w, http.StatusOK, suggestions)
}

type resultRequest struct {
	WalletAddress string             `json:"walletAddress"`
	ManualScores  map[string]float64 `json:"manualScores"`
	Feedback      string             `json:"feedback"`
}

func (h *Handler) handlePublishResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	receipt, err := h.svc.PublishResult(r.Context(), wallet(r, req.WalletAddress),
		chi.URLParam(r, "submissionID"), req.ManualScores, req.Feedback)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleReviewPage(w http.ResponseWriter, r *http.Request) {
	review, err := h.svc.ReviewSubmission(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ReviewPage(review).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// --- Helpers ---

// wallet prefers the address from the request body over the header.
func wallet(r *http.Request, fromBody string) string {
	if s := strings.TrimSpace(fromBody); s != "" {
		return s
	}
	return strings.TrimSpace(r.Header.Get(walletHeader))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// decodeOptionalJSON is decodeJSON for endpoints where the body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := decodeJSON(w, r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorBody struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeMessage(w http.ResponseWriter, r *http.Request, status int, code, msgID string) {
	writeJSON(w, status, errorBody{Code: code, Message: appI18n.T(r.Context(), msgID)})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	slog.Debug("bad request", "path", r.URL.Path, "error", err)
	h.writeMessage(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
}

// errorMapping pairs a sentinel error with its HTTP status, a stable error
// code and the message ID of its localized text. Order matters: the first
// match wins.
var errorMapping = []struct {
	target error
	status int
	code   string
	msgID  string
}{
	{identity.ErrPrivacyViolation, http.StatusUnprocessableEntity, "privacy_violation", "ErrPrivacyViolation"},
	{identity.ErrInvalidIdentity, http.StatusBadRequest, "invalid_identity", "ErrInvalidIdentity"},
	{identity.ErrEntropyUnavailable, http.StatusServiceUnavailable, "entropy_unavailable", "ErrEntropyUnavailable"},
	{identity.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable", "ErrStorageUnavailable"},
	{fairtest.ErrWalletNotConnected, http.StatusBadRequest, "wallet_not_connected", "ErrWalletNotConnected"},
	{fairtest.ErrInvalidExam, http.StatusBadRequest, "invalid_exam", "ErrInvalidExam"},
	{fairtest.ErrAnswerTampered, http.StatusConflict, "answer_tampered", "ErrAnswerTampered"},
	{fairtest.ErrExamClosed, http.StatusConflict, "exam_closed", "ErrExamClosed"},
	{fairtest.ErrNoLocalIdentity, http.StatusNotFound, "no_local_identity", "ErrNoLocalIdentity"},
	{ledger.ErrAlreadyEvaluated, http.StatusConflict, "already_evaluated", "ErrAlreadyEvaluated"},
	{ledger.ErrNotFound, http.StatusNotFound, "not_found", "ErrNotFound"},
	{ledger.ErrWrite, http.StatusBadGateway, "ledger_write", "ErrLedgerWrite"},
	{ledger.ErrRead, http.StatusBadGateway, "ledger_read", "ErrLedgerRead"},
	{llm.ErrNotManual, http.StatusBadRequest, "bad_request", "ErrBadRequest"},
}

// writeError maps err to a status code and a localized JSON body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.status >= 500 {
			slog.Error("request failed", "path", r.URL.Path, "code", m.code, "error", err)
		} else {
			slog.Info("request rejected", "path", r.URL.Path, "code", m.code, "error", err)
		}
		msg := appI18n.T(r.Context(), m.msgID)
		if m.target == fairtest.ErrInvalidExam {
			reason := strings.TrimPrefix(err.Error(), fairtest.ErrInvalidExam.Error()+": ")
			msg = appI18n.Td(r.Context(), m.msgID, map[string]any{"Reason": reason})
		}
		writeJSON(w, m.status, errorBody{Code: m.code, Message: msg})
		return
	}
	slog.Error("request failed", "path", r.URL.Path, "error", err)
	h.writeMessage(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
}
