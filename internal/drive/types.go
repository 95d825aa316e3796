package drive

import "time"

// Permission types and roles used when sharing files.
const (
	PermissionTypeAnyone = "anyone"
	PermissionTypeUser   = "user"
	PermissionRoleReader = "reader"
	PermissionRoleWriter = "writer"
)

// FileInfo represents metadata about a file in Google Drive
type FileInfo struct {
	// ID is the unique identifier for the file
	ID string `json:"id"`

	// Name is the name of the file
	Name string `json:"name"`

	// MimeType is the MIME type of the file
	MimeType string `json:"mimeType"`

	// Size is the size of the file in bytes
	Size int64 `json:"size,omitempty"`

	// CreatedTime is when the file was created
	CreatedTime time.Time `json:"createdTime"`

	// ModifiedTime is when the file was last modified
	ModifiedTime time.Time `json:"modifiedTime"`

	// WebViewLink is a link for opening the file in a relevant Google editor or viewer
	WebViewLink string `json:"webViewLink,omitempty"`

	// WebContentLink is a link for downloading the file content
	WebContentLink string `json:"webContentLink,omitempty"`

	// Parents are the IDs of the parent folders
	Parents []string `json:"parents,omitempty"`
}

// Permission represents access permissions for a file
type Permission struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Role         string `json:"role"`
	EmailAddress string `json:"emailAddress,omitempty"`
	Domain       string `json:"domain,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
}

// UploadOptions contains options for uploading a file
type UploadOptions struct {
	// ParentFolders are the IDs of parent folders where the file should be placed
	ParentFolders []string

	// Description is a short description of the file
	Description string

	// MimeType is the MIME type of the file (e.g., "image/jpeg").
	// If not specified, Drive will attempt to detect it automatically
	MimeType string

	// Size is the content length in bytes, used for tracing only. Negative
	// means unknown.
	Size int64
}

// ShareOptions contains options for sharing a file
type ShareOptions struct {
	// Type is the type of grantee: "user", "group", "domain", or "anyone"
	Type string

	// Role is the role to grant: "owner", "organizer", "fileOrganizer", "writer", "commenter", or "reader"
	Role string

	// EmailAddress is the email address (required if Type is "user" or "group")
	EmailAddress string

	// Domain is the domain name (required if Type is "domain")
	Domain string

	// SendNotificationEmail indicates whether to send a notification email
	SendNotificationEmail bool

	// EmailMessage is a custom message to include in the notification email
	EmailMessage string
}

// PublicReadOptions grants read access to anyone with the link.
func PublicReadOptions() *ShareOptions {
	return &ShareOptions{
		Type: PermissionTypeAnyone,
		Role: PermissionRoleReader,
	}
}
