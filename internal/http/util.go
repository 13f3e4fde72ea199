package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"dialysis-ledger/internal/blob"
	"dialysis-ledger/internal/repository"
	"dialysis-ledger/internal/service"

	"go.uber.org/zap"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// writeError maps service errors onto status codes and the Fail envelope.
func writeError(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusOK, Fail(strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": ")))
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrNoPatient):
		writeJSON(w, http.StatusUnauthorized, Expired())
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	case errors.Is(err, blob.ErrUpload):
		logger.Warn("Image upload failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, Fail("image upload failed; the exchange was not saved"))
	default:
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}
