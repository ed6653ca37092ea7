package predictsvc

import (
	"encoding/json"
	"strings"
)

// ErrorMessage extracts a human readable message from a failure body.
// A JSON object with a string "detail" wins; anything else is returned as
// raw text.
func ErrorMessage(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "{") {
		var payload struct {
			Detail json.RawMessage `json:"detail"`
		}
		if err := json.Unmarshal([]byte(text), &payload); err == nil && len(payload.Detail) > 0 {
			var detail string
			if err := json.Unmarshal(payload.Detail, &detail); err == nil && strings.TrimSpace(detail) != "" {
				return detail
			}
		}
	}
	return text
}
