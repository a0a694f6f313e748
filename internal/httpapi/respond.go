package httpapi

import (
	"encoding/json"
	"net/http"
)

// errorEnvelope is the generic error body for every non-2xx response.
type errorEnvelope struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sendResponse is the /send aggregate body.
type sendResponse struct {
	Status      string   `json:"status"`
	SentTo      []string `json:"sent_to"`
	Failed      any      `json:"failed"`
	TotalTarget int      `json:"total_target"`
}

// emptyGroupResponse is returned when the group resolves to zero chats.
type emptyGroupResponse struct {
	Status  string   `json:"status"`
	SentTo  []string `json:"sent_to"`
	Message string   `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorEnvelope{Status: "error", Code: code, Message: message})
}
