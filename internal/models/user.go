package models

import "time"

// User is the durable identity record, keyed by phone. The clear-text
// phone is stored only in encrypted form; lookups go through phone_hash.
type User struct {
	UserBucket      int        `db:"user_bucket" json:"-"`
	UserID          string     `db:"user_id" json:"user_id"`
	PhoneHash       string     `db:"phone_hash" json:"-"`
	PhoneEncrypted  []byte     `db:"phone_encrypted" json:"-"`
	PhoneKeyID      string     `db:"phone_key_id" json:"-"`
	FirstName       string     `db:"first_name" json:"first_name"`
	LastName        string     `db:"last_name" json:"last_name"`
	PasswordHash    string     `db:"password_hash" json:"-"`
	IsPhoneVerified bool       `db:"is_phone_verified" json:"is_phone_verified"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	LastLogin       *time.Time `db:"last_login" json:"last_login,omitempty"`
	UpdatedAt       *time.Time `db:"updated_at" json:"-"`
}

func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
