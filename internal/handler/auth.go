package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/fairtest/fairtest/internal/i18n"
	"github.com/fairtest/fairtest/internal/model"
)

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth is middleware that checks for a valid bearer token.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeMessage(w, r, http.StatusUnauthorized, "unauthorized", "ErrUnauthorized")
			return
		}

		authSess, err := h.store.GetAuthSession(r.Context(), token)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			h.writeMessage(w, r, http.StatusUnauthorized, "unauthorized", "ErrUnauthorized")
			return
		}
		if authSess == nil {
			h.writeMessage(w, r, http.StatusUnauthorized, "unauthorized", "ErrUnauthorized")
			return
		}

		op, err := h.store.GetOperatorByID(r.Context(), authSess.OperatorID)
		if err != nil || op == nil || !op.Active {
			h.writeMessage(w, r, http.StatusUnauthorized, "unauthorized", "ErrUnauthorized")
			return
		}

		ctx := model.ContextWithOperator(r.Context(), op)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the operator has one of the
// allowed roles.
func requireRole(allowed ...model.OperatorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op := model.OperatorFromContext(r.Context())
			if op == nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: appI18n.T(r.Context(), "ErrUnauthorized")})
				return
			}
			for _, role := range allowed {
				if op.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			slog.Info("role check failed", "operator", op.Username, "role", op.Role, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, errorBody{Code: "forbidden", Message: appI18n.T(r.Context(), "ErrForbidden")})
		})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Operator  *model.Operator `json:"operator"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	op, err := h.store.GetOperatorByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to get operator", "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
		return
	}
	if op == nil || !op.Active {
		h.writeMessage(w, r, http.StatusUnauthorized, "invalid_credentials", "ErrInvalidCredentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		slog.Info("failed login", "username", op.Username)
		h.writeMessage(w, r, http.StatusUnauthorized, "invalid_credentials", "ErrInvalidCredentials")
		return
	}

	token, err := h.store.CreateAuthSession(r.Context(), op.ID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
		return
	}
	sess, err := h.store.GetAuthSession(r.Context(), token)
	if err != nil || sess == nil {
		slog.Error("failed to read back auth session", "error", err)
		h.writeMessage(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
		return
	}

	slog.Info("operator logged in", "username", op.Username, "role", op.Role)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: sess.ExpiresAt, Operator: op})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := h.store.DeleteAuthSession(r.Context(), token); err != nil {
			slog.Warn("failed to delete auth session", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
