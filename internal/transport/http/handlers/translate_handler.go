package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vedran77/courier/internal/translate"
	"github.com/vedran77/courier/pkg/validator"
)

type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

type TranslateHandler struct {
	translator Translator
}

func NewTranslateHandler(translator Translator) *TranslateHandler {
	return &TranslateHandler{translator: translator}
}

func (h *TranslateHandler) Translate(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Text   string `json:"text"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateTranslate(input.Text, input.Target); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	out, err := h.translator.Translate(r.Context(), input.Text, input.Target)
	if err != nil {
		if errors.Is(err, translate.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "Translation is not configured")
			return
		}
		slog.ErrorContext(r.Context(), "translate failed", "error", err)
		writeError(w, http.StatusBadGateway, "UPSTREAM_FAILURE", "Translation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"text": out})
}
