// Package models holds the server-side domain records persisted by the
// repositories.
package models

import "time"

// User is an account that owns devices and, transitively, their segments.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
