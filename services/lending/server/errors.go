package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"blendrates/native/lending"
	"blendrates/services/lending/api"
	"blendrates/services/lending/engine"
)

// toStatus maps an error onto an HTTP status and a stable error code.
func toStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errMalformedRequest), errors.Is(err, api.ErrInvalidPayload):
		return http.StatusBadRequest, "malformed_request"
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, lending.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, engine.ErrOutOfBounds), errors.Is(err, lending.ErrOutOfBounds):
		return http.StatusUnprocessableEntity, "out_of_bounds"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := toStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, api.ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
