package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload"
)

const basePath = "/api/v1/files"

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type wrappedResponseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (w *wrappedResponseRecorder) WriteHeader(statusCode int) {
	if w.statusCode == 0 {
		w.statusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *wrappedResponseRecorder) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *wrappedResponseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *wrappedResponseRecorder) written() bool {
	return w.statusCode != 0
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn().Err(err).Msg("failed to encode response body")
	}
}

func writeErrorBody(w http.ResponseWriter, d *Data, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   msg,
		RequestID: d.RequestID,
	})
}

// writeError converts service errors to HTTP responses. Errors outside the
// upload taxonomy are logged and answered with 500.
func writeError(w http.ResponseWriter, d *Data, err error) {
	var uerr *upload.Error
	if errors.As(err, &uerr) {
		status := uerr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			logger.Ctx(d.Ctx).Error().Err(err).Str("code", uerr.Code.String()).Msg("request failed")
		}
		writeErrorBody(w, d, status, uerr.Code.String(), uerr.Message)
		return
	}
	logger.Ctx(d.Ctx).Error().Err(err).Msg("unhandled service error")
	writeErrorBody(w, d, http.StatusInternalServerError, upload.ErrCodeInternal.String(), "internal error")
}
