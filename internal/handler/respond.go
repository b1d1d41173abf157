package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"pinlite/internal/domain"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Handler | action=write_response_failed error=%v", err)
	}
}

// writeError переводит доменные ошибки в единый конверт
// {"error": {"code", "message"}} с соответствующим статусом.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError

	status := http.StatusInternalServerError
	code := "internal_error"
	message := "Internal server error"

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusUnprocessableEntity
		code = "validation_error"
		message = validationErr.Detail
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
		message = "Resource not found"
	case errors.Is(err, domain.ErrPermissionDenied):
		status = http.StatusForbidden
		code = "permission_denied"
		message = "Not enough permissions"
	case errors.Is(err, domain.ErrAuth):
		status = http.StatusUnauthorized
		code = "auth_error"
		message = "Could not validate credentials"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		code = "business_conflict"
		message = "Resource already exists"
	default:
		log.Printf("Handler | action=internal_error error=%v", err)
	}

	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}
