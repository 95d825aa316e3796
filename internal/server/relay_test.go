package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"golang.org/x/oauth2"

	"github.com/teemow/driverelay/internal/drive"
	"github.com/teemow/driverelay/internal/google"
	"github.com/teemow/driverelay/internal/staging"
)

type fakeAuthenticator struct {
	url   string
	token *oauth2.Token
	err   error
	codes []string
}

func (f *fakeAuthenticator) AuthURL() string { return f.url }

func (f *fakeAuthenticator) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

type uploadCall struct {
	name    string
	content string
	options drive.UploadOptions
}

type fakeUploader struct {
	mu        sync.Mutex
	uploadErr error
	shareErr  error
	uploads   []uploadCall
	shares    []drive.ShareOptions
	stagedAt  []string
}

func (f *fakeUploader) UploadFile(_ context.Context, name string, content io.Reader, options *drive.UploadOptions) (*drive.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	if file, ok := content.(*os.File); ok {
		f.stagedAt = append(f.stagedAt, file.Name())
	}
	f.uploads = append(f.uploads, uploadCall{name: name, content: string(data), options: *options})
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &drive.FileInfo{ID: "file-123", Name: name, MimeType: options.MimeType}, nil
}

func (f *fakeUploader) ShareFile(_ context.Context, _ string, options *drive.ShareOptions) (*drive.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.shares = append(f.shares, *options)
	if f.shareErr != nil {
		return nil, f.shareErr
	}
	return &drive.Permission{ID: "perm-1", Type: options.Type, Role: options.Role}, nil
}

type testEnv struct {
	handler      http.Handler
	auth         *fakeAuthenticator
	uploader     *fakeUploader
	store        *google.FileStore
	area         *staging.Area
	factoryCalls int
	factoryErr   error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	area, err := staging.NewArea(filepath.Join(dir, "uploads"), nil)
	require.NoError(t, err)

	env := &testEnv{
		auth:     &fakeAuthenticator{url: "https://accounts.example.com/auth?client_id=cid"},
		uploader: &fakeUploader{},
		store:    google.NewFileStore(filepath.Join(dir, "tokens.json")),
		area:     area,
	}

	relay, err := NewRelay(RelayConfig{
		Authenticator: env.auth,
		Store:         env.store,
		Staging:       area,
		NewUploader: func(context.Context, *oauth2.Token) (Uploader, error) {
			env.factoryCalls++
			if env.factoryErr != nil {
				return nil, env.factoryErr
			}
			return env.uploader, nil
		},
	})
	require.NoError(t, err)

	env.handler = NewHandler(relay, NewHealthChecker(), nil, nil)
	return env
}

func (e *testEnv) saveToken(t *testing.T) {
	t.Helper()
	require.NoError(t, e.store.Save(context.Background(), &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}))
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) assertStagingEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.area.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "staged files must be removed")
}

func uploadRequest(t *testing.T, field, filename, contentType, content string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("caption", "holiday"))

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewRelay_Validation(t *testing.T) {
	area, err := staging.NewArea(t.TempDir(), nil)
	require.NoError(t, err)
	store := google.NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))
	factory := func(context.Context, *oauth2.Token) (Uploader, error) { return nil, nil }
	auth := &fakeAuthenticator{}

	tests := []struct {
		name   string
		config RelayConfig
	}{
		{"missing authenticator", RelayConfig{Store: store, NewUploader: factory, Staging: area}},
		{"missing store", RelayConfig{Authenticator: auth, NewUploader: factory, Staging: area}},
		{"missing factory", RelayConfig{Authenticator: auth, Store: store, Staging: area}},
		{"missing staging", RelayConfig{Authenticator: auth, Store: store, NewUploader: factory}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRelay(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestAuth_ReturnsConsentURL(t *testing.T) {
	dir := t.TempDir()
	area, err := staging.NewArea(dir, nil)
	require.NoError(t, err)

	auth := google.NewAuthenticator(&oauth2.Config{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:3001/oauth2callback",
		Scopes:       google.DefaultOAuthScopes,
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.google.com/o/oauth2/auth", TokenURL: "https://oauth2.googleapis.com/token"},
	})
	relay, err := NewRelay(RelayConfig{
		Authenticator: auth,
		Store:         google.NewFileStore(filepath.Join(dir, "tokens.json")),
		Staging:       area,
		NewUploader:   func(context.Context, *oauth2.Token) (Uploader, error) { return nil, nil },
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	NewHandler(relay, nil, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	authURL := decodeJSON(t, rec)["authUrl"]
	assert.Contains(t, authURL, "client_id=test-client-id")
	assert.Contains(t, authURL, "drive.file")
	assert.Contains(t, authURL, "access_type=offline")
	assert.Contains(t, authURL, "prompt=consent")
}

func TestCallback_Success(t *testing.T) {
	env := newTestEnv(t)
	env.auth.token = &oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh", TokenType: "Bearer"}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/oauth2callback?code=good", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Google Drive connected! You can close this window.", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, []string{"good"}, env.auth.codes)

	tok, err := env.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
}

func TestCallback_OverwritesExistingToken(t *testing.T) {
	env := newTestEnv(t)
	env.saveToken(t)
	env.auth.token = &oauth2.Token{AccessToken: "second"}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/oauth2callback?code=good", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	tok, err := env.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken)
}

func TestCallback_BadCodeLeavesTokenUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.saveToken(t)
	before, err := os.ReadFile(env.store.Path())
	require.NoError(t, err)

	env.auth.err = errors.New("invalid_grant")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/oauth2callback?code=bad", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "OAuth error", rec.Body.String())

	after, err := os.ReadFile(env.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCallback_MissingCode(t *testing.T) {
	env := newTestEnv(t)
	env.auth.err = google.ErrMissingCode

	rec := env.do(httptest.NewRequest(http.MethodGet, "/oauth2callback", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{""}, env.auth.codes)
	_, err := env.store.Load(context.Background())
	assert.ErrorIs(t, err, google.ErrNoToken)
}

type failingStore struct{ google.CredentialStore }

func (failingStore) Save(context.Context, *oauth2.Token) error { return errors.New("disk full") }

func TestCallback_SaveFailure(t *testing.T) {
	area, err := staging.NewArea(t.TempDir(), nil)
	require.NoError(t, err)

	relay, err := NewRelay(RelayConfig{
		Authenticator: &fakeAuthenticator{token: &oauth2.Token{AccessToken: "a"}},
		Store:         failingStore{},
		Staging:       area,
		NewUploader:   func(context.Context, *oauth2.Token) (Uploader, error) { return nil, nil },
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	NewHandler(relay, nil, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2callback?code=x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "OAuth error", rec.Body.String())
}

func TestUpload_Success(t *testing.T) {
	env := newTestEnv(t)
	env.saveToken(t)

	rec := env.do(uploadRequest(t, "photo", "beach.jpg", "image/jpeg", "jpeg-bytes"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{
		"status": "uploaded",
		"fileId": "file-123",
		"name":   "beach.jpg",
		"link":   "https://drive.google.com/uc?id=file-123",
	}, decodeJSON(t, rec))

	require.Len(t, env.uploader.uploads, 1)
	call := env.uploader.uploads[0]
	assert.Equal(t, "beach.jpg", call.name)
	assert.Equal(t, "jpeg-bytes", call.content)
	assert.Equal(t, "image/jpeg", call.options.MimeType)
	assert.Equal(t, []string{drive.RootFolderID}, call.options.ParentFolders)
	assert.Equal(t, int64(10), call.options.Size)

	require.Len(t, env.uploader.shares, 1)
	assert.Equal(t, "anyone", env.uploader.shares[0].Type)
	assert.Equal(t, "reader", env.uploader.shares[0].Role)

	require.Len(t, env.uploader.stagedAt, 1)
	assert.Equal(t, env.area.Dir(), filepath.Dir(env.uploader.stagedAt[0]))
	env.assertStagingEmpty(t)
}

func TestUpload_DefaultContentType(t *testing.T) {
	env := newTestEnv(t)
	env.saveToken(t)

	rec := env.do(uploadRequest(t, "photo", "blob", "", "data"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.uploader.uploads, 1)
	assert.Equal(t, "application/octet-stream", env.uploader.uploads[0].options.MimeType)
}

func TestUpload_NoFile(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{
			name: "other field",
			req:  func(t *testing.T) *http.Request { return uploadRequest(t, "file", "a.jpg", "image/jpeg", "x") },
		},
		{
			name: "photo field without filename",
			req: func(t *testing.T) *http.Request {
				var body bytes.Buffer
				mw := multipart.NewWriter(&body)
				require.NoError(t, mw.WriteField("photo", "not a file"))
				require.NoError(t, mw.Close())
				req := httptest.NewRequest(http.MethodPost, "/upload", &body)
				req.Header.Set("Content-Type", mw.FormDataContentType())
				return req
			},
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"photo":"x"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.saveToken(t)

			rec := env.do(tt.req(t))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]string{"error": "No file uploaded"}, decodeJSON(t, rec))
			assert.Zero(t, env.factoryCalls)
			env.assertStagingEmpty(t)
		})
	}
}

func TestUpload_NoToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(uploadRequest(t, "photo", "beach.jpg", "image/jpeg", "jpeg-bytes"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "Upload failed", body["error"])
	assert.Contains(t, body["details"], "no stored OAuth token")
	assert.Zero(t, env.factoryCalls)
	env.assertStagingEmpty(t)
}

func TestUpload_Failures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(env *testEnv)
		wantDetails string
		wantShares  int
	}{
		{
			name:        "client construction fails",
			setup:       func(env *testEnv) { env.factoryErr = errors.New("bad transport") },
			wantDetails: "bad transport",
		},
		{
			name:        "upload fails",
			setup:       func(env *testEnv) { env.uploader.uploadErr = errors.New("quota exceeded") },
			wantDetails: "quota exceeded",
		},
		{
			name:        "permission grant fails",
			setup:       func(env *testEnv) { env.uploader.shareErr = errors.New("sharing disabled by admin") },
			wantDetails: "sharing disabled by admin",
			wantShares:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.saveToken(t)
			tt.setup(env)

			rec := env.do(uploadRequest(t, "photo", "beach.jpg", "image/jpeg", "jpeg-bytes"))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			body := decodeJSON(t, rec)
			assert.Equal(t, "Upload failed", body["error"])
			assert.Contains(t, body["details"], tt.wantDetails)
			assert.Len(t, env.uploader.shares, tt.wantShares)
			env.assertStagingEmpty(t)
		})
	}
}

func TestUpload_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// fakeDriveAPI answers the two Drive v3 calls the relay makes.
func fakeDriveAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/permissions"):
			_ = json.NewEncoder(w).Encode(drivev3.Permission{Id: "perm-1", Type: "anyone", Role: "reader"})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
			_ = json.NewEncoder(w).Encode(drivev3.File{Id: "drive-file-42", Name: "beach.jpg", MimeType: "image/jpeg"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUpload_WithDriveClient(t *testing.T) {
	api := fakeDriveAPI(t)
	dir := t.TempDir()

	area, err := staging.NewArea(filepath.Join(dir, "uploads"), nil)
	require.NoError(t, err)
	store := google.NewFileStore(filepath.Join(dir, "tokens.json"))
	require.NoError(t, store.Save(context.Background(), &oauth2.Token{
		AccessToken: "access",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))

	auth := google.NewAuthenticator(&oauth2.Config{ClientID: "cid", Endpoint: oauth2.Endpoint{TokenURL: "http://unused.invalid/token"}})
	relay, err := NewRelay(RelayConfig{
		Authenticator: auth,
		Store:         store,
		Staging:       area,
		NewUploader:   DriveUploaderFactory(auth, store, nil, option.WithEndpoint(api.URL+"/")),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	NewHandler(relay, nil, nil, nil).ServeHTTP(rec, uploadRequest(t, "photo", "beach.jpg", "image/jpeg", "jpeg-bytes"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)
	assert.Equal(t, "drive-file-42", body["fileId"])
	assert.Equal(t, "https://drive.google.com/uc?id=drive-file-42", body["link"])

	entries, err := os.ReadDir(area.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
