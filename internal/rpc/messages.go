package rpc

type RegisterUserRequest struct {
	Username string `json:"username"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}

type RegisterUserResponse struct {
	UserID string `json:"user_id"`
}

type GetSaltRequest struct {
	Username string `json:"username"`
}

type GetSaltResponse struct {
	Salt []byte `json:"salt"`
}

type LoginRequest struct {
	Username          string `json:"username"`
	VerifierCandidate []byte `json:"verifier_candidate"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type InfoCollectionsRequest struct{}

// InfoCollectionsResponse maps collection name to its last-modified time
// in milliseconds.
type InfoCollectionsResponse struct {
	Collections map[string]int64 `json:"collections"`
}

type GetMetaGlobalRequest struct{}

// GetMetaGlobalResponse carries the meta/global record as stored by the
// client, a cleartext JSON document.
type GetMetaGlobalResponse struct {
	Payload  string `json:"payload"`
	Modified int64  `json:"modified"`
}

type PutMetaGlobalRequest struct {
	Payload string `json:"payload"`
}

type PutMetaGlobalResponse struct {
	Modified int64 `json:"modified"`
}

// Record is one stored object: an opaque payload under a client-chosen id.
type Record struct {
	ID       string `json:"id"`
	Payload  string `json:"payload"`
	Modified int64  `json:"modified,omitempty"`
}

type FetchCollectionRequest struct {
	Collection string `json:"collection"`
	// Since selects records modified strictly after this time.
	Since int64 `json:"since"`
}

type FetchCollectionResponse struct {
	Records []Record `json:"records"`
	// Timestamp is the collection's last-modified time.
	Timestamp int64 `json:"timestamp"`
}

type UploadCollectionRequest struct {
	Collection        string   `json:"collection"`
	IfUnmodifiedSince int64    `json:"if_unmodified_since"`
	Records           []Record `json:"records"`
}

type UploadCollectionResponse struct {
	Success  []string          `json:"success"`
	Failed   map[string]string `json:"failed,omitempty"`
	Modified int64             `json:"modified"`
}

type DeleteAllRequest struct{}

type DeleteAllResponse struct {
	// ArchiveURL is a presigned download link of the records removed, empty
	// when archiving is disabled.
	ArchiveURL string `json:"archive_url,omitempty"`
}
