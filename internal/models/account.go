// Package models defines the core data structures for user accounts.
package models

import "time"

// Account represents a registered user account.
type Account struct {
	// ID is assigned by the database and never changes.
	ID int64 `json:"id"`
	// Username is the unique, immutable login name.
	Username string `json:"username"`
	// Email is the address verification links are sent to.
	Email string `json:"email"`
	// Name is the display name of the user.
	Name string `json:"name"`
	// PasswordHash is the bcrypt digest of the user's password.
	PasswordHash string `json:"password_hash"`
	// VerificationToken holds the pending email verification token, if any.
	VerificationToken *string `json:"verification_token,omitempty"`
	// Verified reports whether the email address has been confirmed.
	Verified bool `json:"verified"`
	// CreatedAt is the time the account was inserted.
	CreatedAt time.Time `json:"created_at"`
}

// Public is the representation of an account that is safe to return to clients.
type Public struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// Public strips credentials and pending tokens from the account.
func (a *Account) Public() Public {
	return Public{
		ID:       a.ID,
		Username: a.Username,
		Email:    a.Email,
		Name:     a.Name,
		Verified: a.Verified,
	}
}
