package web

import (
	"chat-relay/errors"
	"encoding/json"
	stderrors "errors"
	"net/http"
)

type errorResponse struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// statusFromError maps the relay sentinels to HTTP statuses.
func statusFromError(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrUserNotFound),
		stderrors.Is(err, errors.ErrRoomNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrUserAlreadyExists):
		return http.StatusUnprocessableEntity
	case stderrors.Is(err, errors.ErrInvalidUser),
		stderrors.Is(err, errors.ErrEmptySearch):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrRegistryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: status, Message: message})
}

// writeFailure answers with the status of err. Internal details never leave the process.
func (s *Server) writeFailure(w http.ResponseWriter, err error, message string) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err)
		message = "Internal server error"
	}
	s.writeError(w, status, message)
}
