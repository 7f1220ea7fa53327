package httputil

import (
	"encoding/json"
	"net/http"
)

// problemTypeBase prefixes the type URI of every problem the read API returns
const problemTypeBase = "urn:conversa:problem:"

// problemTypes names the failure class behind each status the API uses
var problemTypes = map[int]string{
	http.StatusBadRequest:          "invalid-request",
	http.StatusNotFound:            "not-found",
	http.StatusConflict:            "superseded",
	http.StatusBadGateway:          "upstream-unavailable",
	http.StatusServiceUnavailable:  "unavailable",
	http.StatusInternalServerError: "internal",
}

// Problem is the RFC 7807 body of every read API error
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Instance is the request id, matching the server log line
	Instance string `json:"instance,omitempty"`
	// Source names the collection or batch whose upstream fetch failed
	Source string `json:"source,omitempty"`
}

// NewProblem builds the problem for status, tagged with r's request id
func NewProblem(r *http.Request, status int, detail string) *Problem {
	slug, ok := problemTypes[status]
	typ := "about:blank"
	if ok {
		typ = problemTypeBase + slug
	}
	p := &Problem{
		Type:   typ,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
	if r != nil {
		p.Instance = GetRequestID(r)
	}
	return p
}

// WriteProblem writes p as application/problem+json
func WriteProblem(w http.ResponseWriter, p *Problem) {
	payload, err := json.Marshal(p)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	w.Write(payload)
}

// RespondError writes a problem response for status
func RespondError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	WriteProblem(w, NewProblem(r, status, detail))
}

// RespondJSON writes data as JSON. The body is encoded before the headers go
// out, so an encoding failure still yields a well-formed problem.
func RespondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}
