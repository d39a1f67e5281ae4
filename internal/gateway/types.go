package gateway

import (
	"encoding/json"
	"time"
)

// Survey is one assignment offered to a field agent. Read-only; owned by the
// backend.
type Survey struct {
	ID             int    `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	MinDurationSec int    `json:"min_duration_sec"`
	IsActive       bool   `json:"is_active"`
}

// LocationSample is one position reading on the wire.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// LoginResult is the response of the login operation. The backend has been
// observed to use both access_token and token for the same field.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	AltToken    string `json:"token"`
	Role        string `json:"role"`
}

// Token returns whichever token field the backend populated.
func (r LoginResult) Token() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.AltToken
}

// Registration is the payload of the register operation.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// startSessionRequest is the payload of the start-session operation.
type startSessionRequest struct {
	SurveyID  int     `json:"survey_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// startSessionResult carries the opaque session token issued by the backend.
type startSessionResult struct {
	SessionID string `json:"session_id"`
}

// completeSessionRequest is the payload of the complete-session operation.
// Answers is omitted when the normalized questionnaire was empty.
type completeSessionRequest struct {
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Accuracy  float64           `json:"accuracy"`
	Answers   map[string]string `json:"answers,omitempty"`
}

// SessionSummary is one row of the supervisor session listing.
type SessionSummary struct {
	SessionID         string         `json:"session_id"`
	SurveyID          int            `json:"survey_id"`
	AgentID           int            `json:"agent_id"`
	Status            string         `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	DurationSec       int            `json:"duration_sec,omitempty"`
	ValidationDetails map[string]any `json:"validation_details,omitempty"`
}

// QuestionPayload is the raw, shape-unstable question listing returned by the
// backend (or its third-party form provider). It is normalized by the
// question package, never decoded directly.
type QuestionPayload = json.RawMessage
