package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/internal/logger"
	"go.uber.org/zap"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.errors.Handle(err,
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path))

	code := errors.GetCode(err)
	writeJSON(w, errors.HTTPStatus(err), ErrorBody{Error: ErrorDetail{
		Code:    string(code),
		Message: errors.GetUserMessage(err),
	}})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body")
	}
	return nil
}
