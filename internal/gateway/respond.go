package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/peregrinehq/gangway/internal/faults"
)

type errorDetail struct {
	Category    string   `json:"category"`
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	Suggestions []string `json:"suggestions"`
}

type errorBody struct {
	Error     errorDetail `json:"error"`
	Timestamp string      `json:"timestamp"`
}

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeFault sends a categorized error as the structured error envelope.
// Auth failures additionally challenge the client per RFC 6750.
func writeFault(w http.ResponseWriter, ferr *faults.Error) {
	status := faults.HTTPStatus(ferr.Category)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, errorBody{
		Error: errorDetail{
			Category:    string(ferr.Category),
			Code:        ferr.Code,
			Message:     ferr.Message,
			Details:     ferr.Details,
			Suggestions: ferr.Suggestions,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
