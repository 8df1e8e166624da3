package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	"github.com/fairtest/fairtest/internal/hashchain"
	"github.com/fairtest/fairtest/internal/model"
	"github.com/fairtest/fairtest/internal/store"
)

// maxUploadBytes bounds exam uploads.
const maxUploadBytes = 10 << 20

func (h *Handler) handleListOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := h.store.ListOperators(r.Context())
	if err != nil {
		slog.Error("failed to list operators", "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
		return
	}
	if ops == nil {
		ops = []model.Operator{}
	}
	writeJSON(w, http.StatusOK, ops)
}

type createOperatorRequest struct {
	Username    string             `json:"username"`
	DisplayName string             `json:"displayName"`
	Password    string             `json:"password"`
	Role        model.OperatorRole `json:"role"`
}

func validRole(role model.OperatorRole) bool {
	switch role {
	case model.RoleEvaluator, model.RoleCreator, model.RoleAdmin:
		return true
	}
	return false
}

func (h *Handler) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req createOperatorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" || !validRole(req.Role) {
		h.writeMessage(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	op := model.Operator{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	}
	id, err := h.store.CreateOperator(r.Context(), op)
	if errors.Is(err, store.ErrDuplicateOperator) {
		writeJSON(w, http.StatusConflict, errorBody{Code: "duplicate_operator", Message: err.Error()})
		return
	}
	if err != nil {
		slog.Error("failed to create operator", "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
		return
	}
	op.ID = id
	writeJSON(w, http.StatusCreated, op)
}

func (h *Handler) handleToggleOperator(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "operatorID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	if self := model.OperatorFromContext(r.Context()); self != nil && self.ID == id {
		writeJSON(w, http.StatusConflict, errorBody{Code: "self_toggle", Message: "cannot deactivate yourself"})
		return
	}

	err = h.store.ToggleOperatorActive(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeMessage(w, r, http.StatusNotFound, "not_found", "ErrNotFound")
		return
	}
	if err != nil {
		slog.Error("failed to toggle operator active", "id", id, "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type uploadResponse struct {
	ExamID    string `json:"examId"`
	Duplicate bool   `json:"duplicate"`
}

// handleUploadExam publishes an exam sent either as a JSON body or as the
// exam_file field of a multipart form. Re-uploading identical content
// returns the exam created the first time.
func (h *Handler) handleUploadExam(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readExamUpload(w, r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	hash := hashchain.HashString(hashchain.Default(), string(data))
	existing, err := h.store.FindImport(r.Context(), hash)
	if err != nil {
		slog.Error("failed to check import status", "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
		return
	}
	if existing != "" {
		slog.Info("exam file already imported", "filename", filename, "exam_id", existing)
		writeJSON(w, http.StatusOK, uploadResponse{ExamID: existing, Duplicate: true})
		return
	}

	var exam model.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		h.badRequest(w, r, err)
		return
	}

	examID, err := h.svc.PublishExam(r.Context(), exam)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.store.RecordImport(r.Context(), hash, filename, examID); err != nil {
		slog.Error("failed to record import", "error", err)
	}

	slog.Info("uploaded exam via admin", "filename", filename, "exam_id", examID, "questions", len(exam.Questions))
	writeJSON(w, http.StatusCreated, uploadResponse{ExamID: examID})
}

func readExamUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, "", err
		}
		file, header, err := r.FormFile("exam_file")
		if err != nil {
			return nil, "", err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		return data, header.Filename, err
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	return data, "request-body", err
}

func (h *Handler) handleCloseExam(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if err := h.svc.CloseExam(r.Context(), examID); err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("exam closed", "exam_id", examID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportResults(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}
