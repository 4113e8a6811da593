package httputil

import (
	"encoding/json"
	"net/http"

	"aircast/internal/model"
)

// ErrorResponse is the standard failure envelope:
// {"success": false, "message": "...", "errors": [...]?}
type ErrorResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Errors  []model.FieldIssue `json:"errors,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// If encoding fails, we can't do much - headers already sent
			return
		}
	}
}

// WriteRawJSON writes a pre-encoded JSON body (proxied upstream responses).
func WriteRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError writes a failure envelope with the given status and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Success: false, Message: message})
}

// WriteValidationError writes a 400 with field-level issues.
func WriteValidationError(w http.ResponseWriter, issues []model.FieldIssue) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Success: false,
		Message: "Invalid request data",
		Errors:  issues,
	})
}

// WriteBadRequest writes a 400 Bad Request error
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a 401 Unauthorized error
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// WriteNotFound writes a 404 Not Found error
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteInternalError writes a 500 Internal Server Error
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}
