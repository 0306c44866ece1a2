package models

import "github.com/google/uuid"

// User is the identity resolved from a bearer credential on every connection attempt.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}
