package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"shopfront.io/internal/auth"
)

const maxBodyBytes = 1 << 20

const (
	reasonReplay       = "replay"
	reasonInvalidToken = "invalid_token"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorReason(w, r, code, msg, "")
}

// writeErrorReason adds a machine-readable reason to the error body.
func writeErrorReason(w http.ResponseWriter, r *http.Request, code int, msg, reason string) {
	payload := map[string]any{
		"error": msg,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps auth sentinels to status codes. Credential failures
// share one message so callers cannot tell them apart. A replayed refresh
// token carries reason "replay".
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrReplayDetected):
		writeErrorReason(w, r, http.StatusUnauthorized, "refresh token already used", reasonReplay)
	case errors.Is(err, auth.ErrInvalidToken):
		writeErrorReason(w, r, http.StatusUnauthorized, "invalid or expired token", reasonInvalidToken)
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrProtected):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		a.logger.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
