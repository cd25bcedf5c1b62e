// Package user holds the account domain model.
package user

import "time"

// User is a registered account. PasswordHash is a bcrypt digest; the clear
// password never leaves the users service.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
