package models

import "time"

// Auth event types published to Kafka and written to the audit sink.
const (
	EventCodeIssued     = "auth.code_issued"
	EventCodeVerified   = "auth.code_verified"
	EventUserRegistered = "auth.user_registered"
	EventUserLoggedIn   = "auth.user_logged_in"
	EventUserLoggedOut  = "auth.user_logged_out"
	EventPasswordReset  = "auth.password_reset"
)

// AuthEvent is a single auth-flow occurrence. PhoneHash identifies the
// subject without exposing the number.
type AuthEvent struct {
	EventType string    `json:"event_type"`
	PhoneHash string    `json:"phone_hash"`
	UserID    string    `json:"user_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Details   string    `json:"details,omitempty"`
	EventTime time.Time `json:"event_time"`
}
