package pspclient

import (
	"encoding/json"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageLen bounds error text carried into diagnostics.
const maxMessageLen = 300

var stripTags = bluemonday.StrictPolicy()

// errorBody covers the error shapes of the supported providers:
// Mollie (title, detail) and SumUp (message, error_code).
type errorBody struct {
	Title     string `json:"title"`
	Detail    string `json:"detail"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
	Error     string `json:"error"`
	ErrorDesc string `json:"error_description"`
}

// ErrorMessage extracts a short human-readable message from a provider error
// body. JSON bodies contribute their message fields; anything else (HTML error
// pages from proxies, plain text) is stripped of markup first.
func ErrorMessage(contentType string, body []byte) string {
	if len(body) == 0 {
		return ""
	}

	if strings.Contains(contentType, "json") {
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err == nil {
			if msg := joinNonEmpty(eb.Title, eb.Detail, eb.Message, eb.ErrorCode, eb.Error, eb.ErrorDesc); msg != "" {
				return truncate(msg)
			}
		}
	}

	text := stripTags.Sanitize(string(body))
	return truncate(strings.Join(strings.Fields(text), " "))
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ": ")
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageLen {
		return s
	}
	return string(r[:maxMessageLen]) + "…"
}
