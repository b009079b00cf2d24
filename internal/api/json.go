package api

import (
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

const problemBase = "https://vrpdash.local/problems/"

// Problem is an RFC 7807 body. Type is derived from the title so clients can
// switch on it without parsing Detail.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeBody(w, "application/json", status, v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	if status >= http.StatusInternalServerError {
		log.WithFields(log.Fields{"status": status, "path": instance}).Error(title + ": " + detail)
	}
	writeBody(w, "application/problem+json", status, Problem{
		Type:     problemType(title),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeBody encodes before writing the header so an unencodable value turns
// into a 500 problem instead of a truncated success.
func writeBody(w http.ResponseWriter, contentType string, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("encode response")
		contentType, status = "application/problem+json", http.StatusInternalServerError
		b, _ = json.Marshal(Problem{
			Type:   problemType("Response encoding failed"),
			Title:  "Response encoding failed",
			Status: status,
			Detail: err.Error(),
		})
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(append(b, '\n')); err != nil {
		log.WithError(err).Debug("write response")
	}
}

// problemType slugs a title: "Trip not found" -> .../problems/trip-not-found.
func problemType(title string) string {
	if title == "" {
		return "about:blank"
	}
	return problemBase + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "-")
}
