package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, errorResponse{Error: message, Code: code})
}

// respondErr maps err onto the API error body. Unrecognised errors are logged
// and reported as a bare 500.
func respondErr(w http.ResponseWriter, log *zap.Logger, err error) {
	var verr *validationError
	if errors.As(err, &verr) {
		respondWithError(w, http.StatusBadRequest, apperror.Code(apperror.ErrInvalidInput), verr.msg)
		return
	}

	status := apperror.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		log.Error("request failed", zap.Error(err))
	}
	respondWithError(w, status, apperror.Code(err), apperror.Message(err))
}
