package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/service"
	"github.com/vedran77/courier/internal/transport/http/middleware"
	"github.com/vedran77/courier/pkg/validator"
)

type ScheduleHandler struct {
	schedules *service.ScheduleService
}

func NewScheduleHandler(schedules *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules}
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.ScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateSchedule(input.ReceiverID, input.Message, input.ScheduleTime); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	msg, err := h.schedules.Schedule(r.Context(), userID, input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Receiver not found")
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		default:
			slog.ErrorContext(r.Context(), "schedule message failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// List returns the caller's own entries. With ?role=all it also returns
// entries scheduled for the caller by others.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	role := r.URL.Query().Get("role")
	if errs := validator.ValidateScheduleRole(role); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	var (
		list []domain.ScheduledMessage
		err  error
	)
	if role == validator.ScheduleRoleAll {
		list, err = h.schedules.ListForUser(r.Context(), userID)
	} else {
		list, err = h.schedules.ListBySender(r.Context(), userID)
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "list scheduled messages failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, list)
}
