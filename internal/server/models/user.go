package models

import "time"

type User struct {
	ID       string
	UserName string
	Salt     []byte
	Verifier []byte
	// LastModified is the user's storage clock in milliseconds. Every write
	// advances it, so record timestamps never repeat or go back.
	LastModified int64
	CreatedAt    time.Time
}
