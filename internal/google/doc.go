// Package google provides OAuth2 consent, code exchange and credential storage
// for the Drive relay.
//
// An Authenticator is built once at startup from a Google OAuth client JSON
// file and passed to the HTTP handlers. Tokens are kept in a CredentialStore:
// FileStore persists a single JSON record on disk, MemoryStore keeps it in
// process memory for ephemeral deployments.
//
// Refreshed access tokens are written back to the store by the token source
// returned from Authenticator.TokenSource.
package google
