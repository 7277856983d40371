package domain

import "time"

// SignupInitiatedEvent is published once a pending registration is staged and its code dispatched.
type SignupInitiatedEvent struct {
	EventID        string
	Email          string
	RegistrantType RegistrantType
	ResendCount    int
	OccurredAt     time.Time
	Delivered      bool
}

// AccountCreatedEvent is published after a pending registration is promoted.
type AccountCreatedEvent struct {
	EventID        string
	AccountCode    string
	Email          string
	Mobile         string
	RegistrantType RegistrantType
	CreatedAt      time.Time
	Metadata       map[string]any
}
