package models

import "time"

// UserProfile is the display information of a user. Profiles are owned by
// the profile service; this service only reads them.
type UserProfile struct {
	ID             string    `json:"_id"`
	Email          string    `json:"email,omitempty"`
	FullName       string    `json:"full_name"`
	Username       string    `json:"username"`
	ProfilePicture string    `json:"profile_picture"`
	CachedAt       time.Time `json:"-"`
}

// GetDisplayName returns the best available display name for the user
func (u *UserProfile) GetDisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// ConnectionStatus is the lifecycle state of a connection request.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
)

// Connection is a pending or accepted relationship between two users.
type Connection struct {
	ID         string           `json:"_id"`
	FromUserID string           `json:"from_user_id"`
	ToUserID   string           `json:"to_user_id"`
	Status     ConnectionStatus `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// ConnectionDetail is a connection with both parties resolved.
type ConnectionDetail struct {
	Connection
	FromUser *UserProfile `json:"from_user"`
	ToUser   *UserProfile `json:"to_user"`
}
