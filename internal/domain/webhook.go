package domain

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Percentage is a progress value normalized into [-1, 100], where -1 means
// unknown. JSON input may be an integer, a string with an optional trailing
// "%", or null.
type Percentage int

// UnmarshalJSON normalizes the accepted input shapes. Values below -1 clamp
// to -1 and values above 100 clamp to 100. Anything non-numeric is rejected.
func (p *Percentage) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if s == "null" {
		*p = -1
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid percentage %s: %w", s, err)
		}
		s = strings.TrimSuffix(strings.TrimSpace(unquoted), "%")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	*p = clampPercentage(n)
	return nil
}

// Int returns the normalized integer value.
func (p Percentage) Int() int {
	return int(clampPercentage(int(p)))
}

func clampPercentage(n int) Percentage {
	if n < -1 {
		return -1
	}
	if n > 100 {
		return 100
	}
	return Percentage(n)
}

// WebhookPayload is a pushed status update for an imagination. The generation
// engine posts it to the per-record callback URL.
type WebhookPayload struct {
	Prompt     string                 `json:"prompt"`
	Status     string                 `json:"status" binding:"required"`
	Percentage Percentage             `json:"percentage"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// ResultURI extracts the generated asset URI from the payload, if present.
func (w *WebhookPayload) ResultURI() string {
	if w.Result == nil {
		return ""
	}
	uri, _ := w.Result["uri"].(string)
	return uri
}

// TaskUpdate is one observation of an external generation task, produced by
// either a status poll or an inbound webhook. Status carries the provider's
// vocabulary; the lifecycle engine maps it to the internal enum.
type TaskUpdate struct {
	Status     string
	Percentage int
	ResultURI  string
	Error      string
}
