package models

// Payload is the cleartext, server-shaped form of a record. Sensitive fields
// are plaintext here; a Payload is only persisted or sent inside an
// encrypted envelope when its collection has sensitive fields.
type Payload struct {
	ID               string `json:"id"`
	Deleted          bool   `json:"deleted,omitempty"`
	Fields           Fields `json:"entry,omitempty"`
	TimeCreated      int64  `json:"timeCreated,omitempty"`
	TimeLastModified int64  `json:"timeLastModified,omitempty"`
}

// TombstonePayload is the payload announcing a deleted record.
func TombstonePayload(guid string) *Payload {
	return &Payload{ID: guid, Deleted: true}
}

// BSO is a record as exchanged with the remote store: an opaque envelope
// plus the server timestamp of its last write.
type BSO struct {
	ID       string
	Payload  string
	Modified int64
}
