// Package models defines server-side data models persisted in the database.
package models

// BSO is one stored record: an opaque payload the client chose an id for.
type BSO struct {
	UserID     string
	Collection string
	ID         string
	Payload    string
	Modified   int64
}
