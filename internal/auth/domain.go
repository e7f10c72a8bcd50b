package auth

import "time"

// User is a seller account allowed to manage listings.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReturnToKey is the session key remembering the page that required login.
const ReturnToKey = "return_to"
