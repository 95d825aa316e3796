package drive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// fakeDrive records the requests made against a minimal Drive v3 API.
type fakeDrive struct {
	mu          sync.Mutex
	uploads     []string
	permissions []drive.Permission
	failCreate  bool
	failShare   bool
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/permissions"):
		if f.failShare {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"sharing disabled"}}`))
			return
		}
		var p drive.Permission
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.permissions = append(f.permissions, p)
		p.Id = "perm-1"
		_ = json.NewEncoder(w).Encode(p)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
		if f.failCreate {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend error"}}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.uploads = append(f.uploads, string(body))
		_ = json.NewEncoder(w).Encode(drive.File{
			Id:          "file-123",
			Name:        "photo.jpg",
			MimeType:    "image/jpeg",
			Parents:     []string{"root-folder-id"},
			CreatedTime: "2024-05-01T10:00:00Z",
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeDrive) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), srv.Client(), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresHTTPClient(t *testing.T) {
	_, err := NewClient(context.Background(), nil)
	assert.Error(t, err)
}

func TestClient_UploadFile(t *testing.T) {
	fake := &fakeDrive{}
	client := newTestClient(t, fake)

	info, err := client.UploadFile(context.Background(), "photo.jpg", strings.NewReader("jpeg-bytes"), &UploadOptions{
		ParentFolders: []string{RootFolderID},
		MimeType:      "image/jpeg",
		Size:          10,
	})
	require.NoError(t, err)

	assert.Equal(t, "file-123", info.ID)
	assert.Equal(t, "photo.jpg", info.Name)
	assert.Equal(t, "image/jpeg", info.MimeType)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), info.CreatedTime.UTC())

	require.Len(t, fake.uploads, 1)
	assert.Contains(t, fake.uploads[0], "jpeg-bytes")
	assert.Contains(t, fake.uploads[0], `"root"`)
	assert.Contains(t, fake.uploads[0], `"photo.jpg"`)
}

func TestClient_UploadFile_Validation(t *testing.T) {
	client := newTestClient(t, &fakeDrive{})
	ctx := context.Background()

	_, err := client.UploadFile(ctx, "", strings.NewReader("x"), nil)
	assert.Error(t, err)

	_, err = client.UploadFile(ctx, "a.txt", nil, nil)
	assert.Error(t, err)
}

func TestClient_UploadFile_APIError(t *testing.T) {
	client := newTestClient(t, &fakeDrive{failCreate: true})

	_, err := client.UploadFile(context.Background(), "photo.jpg", strings.NewReader("x"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload file")
}

func TestClient_ShareFile(t *testing.T) {
	fake := &fakeDrive{}
	client := newTestClient(t, fake)

	perm, err := client.ShareFile(context.Background(), "file-123", PublicReadOptions())
	require.NoError(t, err)

	assert.Equal(t, "perm-1", perm.ID)
	assert.Equal(t, PermissionTypeAnyone, perm.Type)
	assert.Equal(t, PermissionRoleReader, perm.Role)

	require.Len(t, fake.permissions, 1)
	assert.Equal(t, "anyone", fake.permissions[0].Type)
	assert.Equal(t, "reader", fake.permissions[0].Role)
}

func TestClient_ShareFile_Validation(t *testing.T) {
	client := newTestClient(t, &fakeDrive{})
	ctx := context.Background()

	tests := []struct {
		name    string
		fileID  string
		options *ShareOptions
	}{
		{"missing file id", "", PublicReadOptions()},
		{"missing options", "file-123", nil},
		{"missing type", "file-123", &ShareOptions{Role: PermissionRoleReader}},
		{"missing role", "file-123", &ShareOptions{Type: PermissionTypeAnyone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ShareFile(ctx, tt.fileID, tt.options)
			assert.Error(t, err)
		})
	}
}

func TestClient_ShareFile_APIError(t *testing.T) {
	client := newTestClient(t, &fakeDrive{failShare: true})

	_, err := client.ShareFile(context.Background(), "file-123", PublicReadOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sharing disabled")
}

func TestPublicDownloadURL(t *testing.T) {
	assert.Equal(t, "https://drive.google.com/uc?id=file-123", PublicDownloadURL("file-123"))
	assert.Equal(t, "https://drive.google.com/uc?id=a%26b", PublicDownloadURL("a&b"))
}

func TestConvertToFileInfo(t *testing.T) {
	info := convertToFileInfo(&drive.File{
		Id:             "file123",
		Name:           "test.pdf",
		MimeType:       "application/pdf",
		Size:           1024,
		CreatedTime:    "2023-01-01T10:00:00Z",
		ModifiedTime:   "not-a-time",
		WebContentLink: "https://drive.google.com/uc?id=file123",
		Parents:        []string{"parent1"},
	})

	assert.Equal(t, "file123", info.ID)
	assert.Equal(t, int64(1024), info.Size)
	assert.Equal(t, []string{"parent1"}, info.Parents)
	assert.False(t, info.CreatedTime.IsZero())
	assert.True(t, info.ModifiedTime.IsZero(), "unparseable timestamps are left zero")
}

func TestConvertToPermission(t *testing.T) {
	perm := convertToPermission(&drive.Permission{
		Id:           "perm456",
		Type:         "group",
		Role:         "writer",
		EmailAddress: "group@example.com",
		Domain:       "example.com",
		DisplayName:  "Example Group",
	})

	assert.Equal(t, &Permission{
		ID:           "perm456",
		Type:         "group",
		Role:         "writer",
		EmailAddress: "group@example.com",
		Domain:       "example.com",
		DisplayName:  "Example Group",
	}, perm)
}
