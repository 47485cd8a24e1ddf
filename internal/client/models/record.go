// Package models defines the client-side record types shared by storage,
// the merge engine and the sync session.
package models

import (
	"maps"
)

// Fields holds one record's values keyed by field name. After
// normalization every value is a string or an int64, so values compare with ==.
type Fields map[string]any

func (f Fields) Clone() Fields {
	return maps.Clone(f)
}

func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f Fields) Int(key string) int64 {
	n, _ := f[key].(int64)
	return n
}

// Record is one row of a collection's data table.
type Record struct {
	GUID             string
	Fields           Fields
	TimeCreated      int64
	TimeLastModified int64
	// ChangeCounter counts local edits not yet acknowledged by the server.
	ChangeCounter int64
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = r.Fields.Clone()
	return &c
}

// PendingChange is a record with unsynced local edits.
type PendingChange struct {
	GUID    string
	Counter int64
	Record  *Record
}

type Tombstone struct {
	GUID        string
	TimeDeleted int64
}

// MirrorRow is the stored server copy of a record. Payload is the JSON of a
// Payload, encrypted for collections with sensitive fields.
type MirrorRow struct {
	GUID           string
	Payload        string
	ServerModified int64
}

// IncomingRow is a downloaded record still sealed with the collection key.
type IncomingRow struct {
	GUID           string
	Payload        string
	ServerModified int64
}

// OutgoingRow is a record queued for upload. Payload is in mirror format and
// Counter is the change counter observed when the row was queued.
type OutgoingRow struct {
	GUID      string
	Payload   string
	Counter   int64
	Tombstone bool
}

type QuarantineEntry struct {
	Collection      string
	GUID            string
	Reason          string
	TimeQuarantined int64
}
