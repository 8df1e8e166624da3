package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/fairtest/fairtest/internal/fairtest"
)

// deviceHeader carries the token that stands in for the student's device.
// Identities stored on the server are only ever read back through it.
const deviceHeader = "X-Device-Token"

// minDeviceTokenLen rejects tokens short enough to guess.
const minDeviceTokenLen = 32

func deviceToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(deviceHeader))
}

// requireDevice is middleware that rejects student requests without a
// usable device token.
func (h *Handler) requireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(deviceToken(r)) < minDeviceTokenLen {
			h.writeMessage(w, r, http.StatusUnauthorized, "device_required", "ErrDeviceRequired")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// student returns the service scoped to the caller's device.
func (h *Handler) student(r *http.Request) *fairtest.Service {
	return h.svc.ForDevice(deviceToken(r))
}

type deviceResponse struct {
	DeviceToken string `json:"deviceToken"`
}

// handleNewDevice issues a fresh device token. Nothing is recorded: the
// token only namespaces the identities later stored with it.
func (h *Handler) handleNewDevice(w http.ResponseWriter, r *http.Request) {
	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	writeJSON(w, http.StatusCreated, deviceResponse{DeviceToken: token})
}
