package models

import "strings"

// ConnectionRequestEvent is the domain event emitted when a user sends a
// connection request.
type ConnectionRequestEvent struct {
	ConnectionID string `json:"connectionId"`
	EventID      string `json:"eventId,omitempty"`
}

// ReminderPayload is the input of the connection request reminder workflow.
type ReminderPayload struct {
	ConnectionID string `json:"connection_id"`
}

// User event types delivered by the identity provider.
const (
	UserEventCreated = "user.created"
	UserEventUpdated = "user.updated"
	UserEventDeleted = "user.deleted"
)

// UserEvent is an identity provider webhook describing a change to a user.
type UserEvent struct {
	Type string        `json:"type"`
	Data UserEventData `json:"data"`
}

// UserEventData is the user as the identity provider describes it.
type UserEventData struct {
	ID             string             `json:"id"`
	FirstName      string             `json:"first_name"`
	LastName       string             `json:"last_name"`
	ImageURL       string             `json:"image_url"`
	EmailAddresses []UserEventAddress `json:"email_addresses"`
}

// UserEventAddress is one email address of a user.
type UserEventAddress struct {
	EmailAddress string `json:"email_address"`
}

// PrimaryEmail returns the first email address, or "".
func (d UserEventData) PrimaryEmail() string {
	if len(d.EmailAddresses) == 0 {
		return ""
	}
	return d.EmailAddresses[0].EmailAddress
}

// FullName joins the first and last name.
func (d UserEventData) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}
