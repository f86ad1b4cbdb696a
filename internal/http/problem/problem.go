// Package problem renders RFC 7807 bodies for requests the service refuses
// and for platform routes that cannot answer.
package problem

import (
	"encoding/json"
	"net/http"
)

// ContentType is the media type of every problem body.
const ContentType = "application/problem+json"

// Problem is an RFC 7807 document extended with the request trace ID.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"traceId,omitempty"`
}

// New describes a refusal titled with the standard status text.
func New(status int, detail string) Problem {
	return Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// Send writes p as the response to r. The request path becomes the instance.
func (p Problem) Send(w http.ResponseWriter, r *http.Request, traceID string) {
	if r != nil && r.URL != nil {
		p.Instance = r.URL.Path
	}
	p.TraceID = traceID

	body, err := json.Marshal(p)
	if err != nil {
		http.Error(w, p.Title, p.Status)
		return
	}

	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(p.Status)
	_, _ = w.Write(append(body, '\n'))
}
