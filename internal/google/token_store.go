package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/giantswarm/mcp-oauth/storage"
	"github.com/giantswarm/mcp-oauth/storage/memory"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no token has been stored yet.
var ErrNoToken = errors.New("no stored OAuth token; complete the consent flow first")

// DefaultTokenFile is the token file path used when none is configured.
const DefaultTokenFile = "tokens.json"

// CredentialStore persists the single OAuth token record used by the relay.
type CredentialStore interface {
	// Load returns the stored token or an error wrapping ErrNoToken.
	Load(ctx context.Context) (*oauth2.Token, error)

	// Save overwrites the stored token.
	Save(ctx context.Context, tok *oauth2.Token) error
}

// tokenRecord is the on-disk token shape. expiry_date is milliseconds since
// the Unix epoch, as returned by Google's JavaScript client libraries.
type tokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiryDate   int64  `json:"expiry_date,omitempty"`
}

func recordFromToken(tok *oauth2.Token) tokenRecord {
	rec := tokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		rec.ExpiryDate = tok.Expiry.UnixMilli()
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rec.Scope = scope
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		rec.IDToken = idToken
	}
	return rec
}

func (r tokenRecord) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
	if r.ExpiryDate > 0 {
		tok.Expiry = time.UnixMilli(r.ExpiryDate)
	}

	extra := make(map[string]interface{})
	if r.Scope != "" {
		extra["scope"] = r.Scope
	}
	if r.IDToken != "" {
		extra["id_token"] = r.IDToken
	}
	if len(extra) > 0 {
		tok = tok.WithExtra(extra)
	}
	return tok
}

// FileStore keeps the token as a JSON file. Reads and writes are not locked.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultTokenFile
	}
	return &FileStore{path: path}
}

// Path returns the token file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the token file.
func (s *FileStore) Load(_ context.Context) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNoToken, err)
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode token file %s: %w", s.path, err)
	}
	if rec.AccessToken == "" && rec.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token file %s is empty", ErrNoToken, s.path)
	}

	return rec.token(), nil
}

// Save writes the token file with owner-only permissions, replacing any
// existing record.
func (s *FileStore) Save(_ context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return fmt.Errorf("token is required")
	}

	data, err := json.Marshal(recordFromToken(tok))
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}

// DefaultIdentity is the key under which MemoryStore keeps the token.
const DefaultIdentity = "default"

// MemoryStore keeps the token in an mcp-oauth TokenStore. Tokens do not
// survive a restart.
type MemoryStore struct {
	store storage.TokenStore
	stop  func()
}

// NewMemoryStore creates a MemoryStore backed by an in-process mcp-oauth store.
// Call Close to stop its background cleanup.
func NewMemoryStore() *MemoryStore {
	mem := memory.New()
	return &MemoryStore{store: mem, stop: mem.Stop}
}

// NewTokenStoreAdapter exposes any mcp-oauth TokenStore as a CredentialStore.
func NewTokenStoreAdapter(store storage.TokenStore) *MemoryStore {
	return &MemoryStore{store: store}
}

// Load returns the token saved under DefaultIdentity.
func (s *MemoryStore) Load(ctx context.Context) (*oauth2.Token, error) {
	tok, err := s.store.GetToken(ctx, DefaultIdentity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoToken, err)
	}
	return tok, nil
}

// Save stores the token under DefaultIdentity.
func (s *MemoryStore) Save(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return fmt.Errorf("token is required")
	}
	if err := s.store.SaveToken(ctx, DefaultIdentity, tok); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Close releases the backing store.
func (s *MemoryStore) Close() {
	if s.stop != nil {
		s.stop()
	}
}
