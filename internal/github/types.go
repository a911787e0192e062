package github

import (
	"encoding/json"
	"fmt"
	"time"
)

// User holds the profile fields the pipeline needs.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type Email struct {
	Email      string `json:"email"`
	Primary    bool   `json:"primary"`
	Verified   bool   `json:"verified"`
	Visibility string `json:"visibility,omitempty"`
}

// Event is one entry from /users/{username}/events/public. Payload stays
// raw because its shape depends on Type.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Repo struct {
		Name string `json:"name"`
	} `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const PushEventType = "PushEvent"

// PushPayload is the payload of a PushEvent.
type PushPayload struct {
	Ref    string `json:"ref"`
	Head   string `json:"head"`
	Before string `json:"before"`
}

// Push decodes the payload of a PushEvent.
func (e Event) Push() (PushPayload, error) {
	if e.Type != PushEventType {
		return PushPayload{}, fmt.Errorf("event %s is a %s, not a %s", e.ID, e.Type, PushEventType)
	}
	var p PushPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return PushPayload{}, fmt.Errorf("decode push payload of event %s: %w", e.ID, err)
	}
	return p, nil
}

type EventsPage struct {
	Events []Event
	// HasNext reports whether GitHub advertised a following page.
	HasNext bool
}
