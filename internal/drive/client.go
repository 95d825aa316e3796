package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/driverelay/internal/instrumentation"
)

const (
	// RootFolderID is the alias for the account's top-level "My Drive" folder.
	RootFolderID = "root"

	// PublicDownloadBaseURL serves file content to anyone holding a reader link.
	PublicDownloadBaseURL = "https://drive.google.com/uc"

	fileFields       = "id, name, mimeType, size, createdTime, modifiedTime, webViewLink, webContentLink, parents"
	permissionFields = "id, type, role, emailAddress, domain, displayName"
)

// Client wraps the Google Drive API service
type Client struct {
	service *drive.Service
	metrics *instrumentation.Metrics
}

// NewClient creates a Drive client that sends requests through httpClient,
// which is expected to carry OAuth2 credentials. Extra client options, such
// as an endpoint override, are applied after it.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client is required")
	}

	clientOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	driveService, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	return &Client{
		service: driveService,
	}, nil
}

// WithMetrics records every API call on m.
func (c *Client) WithMetrics(m *instrumentation.Metrics) *Client {
	c.metrics = m
	return c
}

// UploadFile uploads a file to Google Drive
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader, options *UploadOptions) (*FileInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if content == nil {
		return nil, fmt.Errorf("file content is required")
	}

	file := &drive.File{
		Name: name,
	}

	if options != nil {
		if len(options.ParentFolders) > 0 {
			file.Parents = options.ParentFolders
		}
		if options.Description != "" {
			file.Description = options.Description
		}
		if options.MimeType != "" {
			file.MimeType = options.MimeType
		}
	}

	attrs := instrumentation.NewSpanAttributeBuilder().
		WithResource("file", "").
		WithMimeType(file.MimeType)
	if options != nil {
		attrs = attrs.WithFileSize(options.Size)
	}
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceDrive, instrumentation.OperationCreate, attrs.Build()...)
	defer span.End()

	start := time.Now()
	driveFile, err := c.service.Files.Create(file).
		Context(ctx).
		Media(content, googleapi.ContentType(file.MimeType)).
		Fields(fileFields).
		Do()
	c.record(ctx, instrumentation.OperationCreate, start, err)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	instrumentation.AddSpanEvent(span, "file_created",
		instrumentation.NewSpanAttributeBuilder().WithResource("file", driveFile.Id).Build()...)
	instrumentation.SetSpanSuccess(span)

	return convertToFileInfo(driveFile), nil
}

// ShareFile creates a permission on a file to share it
func (c *Client) ShareFile(ctx context.Context, fileID string, options *ShareOptions) (*Permission, error) {
	if fileID == "" {
		return nil, fmt.Errorf("fileID is required")
	}
	if options == nil {
		return nil, fmt.Errorf("share options are required")
	}
	if options.Type == "" {
		return nil, fmt.Errorf("permission type is required")
	}
	if options.Role == "" {
		return nil, fmt.Errorf("permission role is required")
	}

	permission := &drive.Permission{
		Type: options.Type,
		Role: options.Role,
	}

	if options.EmailAddress != "" {
		permission.EmailAddress = options.EmailAddress
	}
	if options.Domain != "" {
		permission.Domain = options.Domain
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceDrive, instrumentation.OperationShare,
		instrumentation.NewSpanAttributeBuilder().WithResource("file", fileID).Build()...)
	defer span.End()

	call := c.service.Permissions.Create(fileID, permission).
		Context(ctx).
		Fields(permissionFields)

	// Drive only accepts the notification flag for user and group grantees.
	if options.SendNotificationEmail {
		call = call.SendNotificationEmail(true)
		if options.EmailMessage != "" {
			call = call.EmailMessage(options.EmailMessage)
		}
	}

	start := time.Now()
	drivePermission, err := call.Do()
	c.record(ctx, instrumentation.OperationShare, start, err)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to share file: %w", err)
	}

	instrumentation.SetSpanSuccess(span)
	return convertToPermission(drivePermission), nil
}

// PublicDownloadURL returns the direct download link for a file shared with
// anyone.
func PublicDownloadURL(fileID string) string {
	return PublicDownloadBaseURL + "?id=" + url.QueryEscape(fileID)
}

func (c *Client) record(ctx context.Context, operation string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceDrive, operation, status, time.Since(start))
}

// convertToFileInfo converts a Drive API file to our FileInfo type
func convertToFileInfo(f *drive.File) *FileInfo {
	info := &FileInfo{
		ID:             f.Id,
		Name:           f.Name,
		MimeType:       f.MimeType,
		Size:           f.Size,
		WebViewLink:    f.WebViewLink,
		WebContentLink: f.WebContentLink,
		Parents:        f.Parents,
	}

	if f.CreatedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
			info.CreatedTime = t
		}
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			info.ModifiedTime = t
		}
	}

	return info
}

// convertToPermission converts a Drive API permission to our Permission type
func convertToPermission(p *drive.Permission) *Permission {
	return &Permission{
		ID:           p.Id,
		Type:         p.Type,
		Role:         p.Role,
		EmailAddress: p.EmailAddress,
		Domain:       p.Domain,
		DisplayName:  p.DisplayName,
	}
}
