package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/skechum/internal/checkout"
	"github.com/digkill/skechum/internal/service"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Success: false, Message: message})
}

// fail maps a service error to its status code. Unexpected errors are logged
// and hidden behind a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
	}
	s.writeError(w, status, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrUnknownProduct):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, checkout.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid webhook signature"
	case errors.Is(err, service.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient credits"
	case errors.Is(err, service.ErrPaymentMismatch):
		return http.StatusForbidden, "payment belongs to another user"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrRefundNotAllowed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrGenerationInProgress):
		return http.StatusConflict, "a generation is already in progress"
	case errors.Is(err, service.ErrGenerationTimeout):
		return http.StatusGatewayTimeout, "image generation timed out, your credits were refunded"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed json body", service.ErrInvalidRequest)
	}
	return nil
}

func pageFromQuery(r *http.Request) service.Page {
	q := r.URL.Query()
	return service.NewPage(queryInt(q.Get("page")), queryInt(q.Get("limit")))
}

func queryInt(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}
