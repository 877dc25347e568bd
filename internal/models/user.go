package models

import "time"

type User struct {
	ID           int64     `json:"userid" bson:"userid"`
	Username     string    `json:"username" bson:"username"`
	PasswordHash string    `json:"-" bson:"password"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// Session is the caller identity resolved from a session token.
type Session struct {
	UserID    int64     `json:"userid"`
	Username  string    `json:"username"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}
