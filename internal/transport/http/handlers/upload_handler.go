package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/transport/http/middleware"
	"github.com/vedran77/courier/internal/upload"
	"github.com/vedran77/courier/pkg/validator"
)

type Presigner interface {
	Presign(ctx context.Context, userID uuid.UUID, kind string) (*upload.Ticket, error)
}

type UploadHandler struct {
	presigner Presigner
}

func NewUploadHandler(presigner Presigner) *UploadHandler {
	return &UploadHandler{presigner: presigner}
}

func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateUpload(input.Kind); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	ticket, err := h.presigner.Presign(r.Context(), userID, input.Kind)
	if err != nil {
		if errors.Is(err, upload.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "Uploads are not configured")
			return
		}
		slog.ErrorContext(r.Context(), "presign upload failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}
