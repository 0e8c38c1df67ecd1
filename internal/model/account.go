// Package model holds the persisted row shapes shared across the auth
// server's storage layer.
package model

import "time"

// Account represents a row in the users table.
type Account struct {
	ID          int32
	Username    string
	Password    string
	AccessLevel int
	CreatedAt   time.Time
}
