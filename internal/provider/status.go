package provider

import (
	"errors"
	"strings"
)

var (
	ErrJobFailed  = errors.New("provider job failed")
	ErrNoVideoURL = errors.New("no video url in provider output")
)

type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// JobStatus is a poll result with the provider's field naming flattened away.
type JobStatus struct {
	State    State
	Raw      string
	Output   any
	Error    string
	Progress float64
}

// NormalizeState maps a raw provider status onto pending/succeeded/failed,
// ignoring case. Anything unrecognised is still pending.
func NormalizeState(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCEEDED", "SUCCESS", "SUCCESSFUL", "COMPLETED", "COMPLETE", "DONE", "FINISHED":
		return StateSucceeded
	case "FAILED", "FAILURE", "ERROR", "CANCELLED", "CANCELED", "REJECTED", "EXPIRED":
		return StateFailed
	}
	return StatePending
}

func normalize(body map[string]any) JobStatus {
	raw := firstString(body, "status", "state")
	st := JobStatus{
		State:  NormalizeState(raw),
		Raw:    raw,
		Output: firstValue(body, "output", "outputs", "result"),
		Error:  firstString(body, "failure", "error", "failureReason", "message"),
	}
	if p, ok := body["progress"].(float64); ok {
		st.Progress = p
	}
	if m, ok := body["error"].(map[string]any); ok && st.Error == "" {
		st.Error = firstString(m, "message", "code")
	}
	if st.Error == "" {
		st.Error = firstString(body, "failureCode")
	}
	return st
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
