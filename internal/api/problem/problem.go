// Package problem writes RFC 7807 problem details for the ledger API.
package problem

import (
	"encoding/json"
	"net/http"
)

const (
	contentType = "application/problem+json"
	baseTypeURL = "https://errors.marketplace-ledger.dev/"
)

// Details is the RFC 7807 body. RequestID echoes X-Trace-ID so a failed
// ledger call can be matched to its logs and spans.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
}

// Type expands a slug like "balance/insufficient" to its problem type URI.
func Type(slug string) string {
	return baseTypeURL + slug
}

// New builds the problem for r. An empty title defaults to the status text.
func New(r *http.Request, status int, problemType, title, detail string) Details {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	d := Details{Type: problemType, Title: title, Status: status, Detail: detail}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get("X-Trace-ID")
	}
	return d
}

// Write sends the problem for r.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	d := New(r, status, problemType, title, detail)
	if d.RequestID == "" {
		d.RequestID = w.Header().Get("X-Trace-ID")
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
