package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// StorageVersion is the remote storage format this client understands.
// A newer version on the server means the client must be upgraded.
const StorageVersion = 5
