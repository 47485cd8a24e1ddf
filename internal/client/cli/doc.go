// Package cli is the gophsync command-line client.
//
// Every invocation opens the local store, runs one command and exits:
//
//	gophsync register
//	gophsync add passwords origin=https://example.com username=alice password=s3cret
//	gophsync list passwords
//	gophsync get passwords <guid> --reveal
//	gophsync sync
//
// Record commands work offline. sync and wipe-remote prompt for the account
// passphrase and talk to the server.
package cli
