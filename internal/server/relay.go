package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/teemow/driverelay/internal/drive"
	"github.com/teemow/driverelay/internal/google"
	"github.com/teemow/driverelay/internal/instrumentation"
	"github.com/teemow/driverelay/internal/logging"
	"github.com/teemow/driverelay/internal/staging"
)

// UploadField is the multipart form field carrying the file.
const UploadField = "photo"

// Response messages.
const (
	msgConnected     = "Google Drive connected! You can close this window."
	msgOAuthError    = "OAuth error"
	msgNoFile        = "No file uploaded"
	msgUploadFailed  = "Upload failed"
	statusUploaded   = "uploaded"
	defaultMediaType = "application/octet-stream"
)

var errNoFile = errors.New("no file in upload field")

// Authenticator issues consent URLs and exchanges authorization codes.
type Authenticator interface {
	AuthURL() string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Uploader creates and shares Drive files.
type Uploader interface {
	UploadFile(ctx context.Context, name string, content io.Reader, options *drive.UploadOptions) (*drive.FileInfo, error)
	ShareFile(ctx context.Context, fileID string, options *drive.ShareOptions) (*drive.Permission, error)
}

// UploaderFactory builds an Uploader authenticated with tok.
type UploaderFactory func(ctx context.Context, tok *oauth2.Token) (Uploader, error)

// DriveUploaderFactory returns a factory that builds Drive clients whose
// token refreshes are persisted to store.
func DriveUploaderFactory(auth *google.Authenticator, store google.CredentialStore, metrics *instrumentation.Metrics, opts ...option.ClientOption) UploaderFactory {
	return func(ctx context.Context, tok *oauth2.Token) (Uploader, error) {
		client, err := drive.NewClient(ctx, auth.Client(ctx, store, tok), opts...)
		if err != nil {
			return nil, err
		}
		return client.WithMetrics(metrics), nil
	}
}

// RelayConfig holds the dependencies of a Relay.
type RelayConfig struct {
	Authenticator Authenticator
	Store         google.CredentialStore
	NewUploader   UploaderFactory
	Staging       *staging.Area

	// Optional.
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

// Relay serves the consent, callback and upload endpoints.
type Relay struct {
	auth        Authenticator
	store       google.CredentialStore
	newUploader UploaderFactory
	staging     *staging.Area
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	audit       *instrumentation.AuditLogger
}

// NewRelay validates cfg and returns a Relay.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.NewUploader == nil {
		return nil, fmt.Errorf("uploader factory is required")
	}
	if cfg.Staging == nil {
		return nil, fmt.Errorf("staging area is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Relay{
		auth:        cfg.Authenticator,
		store:       cfg.Store,
		newUploader: cfg.NewUploader,
		staging:     cfg.Staging,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		audit:       cfg.Audit,
	}, nil
}

// RegisterRoutes registers the relay endpoints on mux.
func (h *Relay) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth", h.handleAuth)
	mux.HandleFunc("GET /oauth2callback", h.handleCallback)
	mux.HandleFunc("POST /upload", h.handleUpload)
}

func (h *Relay) handleAuth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": h.auth.AuthURL()})
}

func (h *Relay) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := instrumentation.StartHandlerSpan(r.Context(), "oauth2callback")
	defer span.End()

	logger := logging.WithOperation(h.logger, "oauth2callback")
	event := instrumentation.NewRelayEvent(instrumentation.ActionAuthorize).WithSpanContext(ctx)

	err := h.connect(ctx, r.URL.Query().Get("code"))
	if err != nil {
		instrumentation.SetSpanError(span, err)
		h.audit.LogEvent(event.CompleteWithError(err))
		logger.Error("OAuth callback failed", logging.Err(err))
		writeText(w, http.StatusInternalServerError, msgOAuthError)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.audit.LogEvent(event.CompleteSuccess())
	logger.Info("Google Drive connected")
	writeText(w, http.StatusOK, msgConnected)
}

// connect exchanges code and stores the token. The stored token is left
// untouched if the exchange fails.
func (h *Relay) connect(ctx context.Context, code string) error {
	tok, err := h.auth.Exchange(ctx, code)
	if err != nil {
		return err
	}
	if err := h.store.Save(ctx, tok); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

type uploadResponse struct {
	Status string `json:"status"`
	FileID string `json:"fileId"`
	Name   string `json:"name"`
	Link   string `json:"link"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *Relay) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, span := instrumentation.StartHandlerSpan(r.Context(), "upload")
	defer span.End()

	logger := logging.WithOperation(h.logger, "upload")
	event := instrumentation.NewRelayEvent(instrumentation.ActionUpload).WithSpanContext(ctx)

	file, err := h.stageUpload(r)
	if errors.Is(err, errNoFile) {
		logger.Debug("upload request without file", logging.Err(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNoFile})
		return
	}
	if err != nil {
		h.uploadFailed(ctx, w, logger, event, 0, err)
		return
	}
	defer func() { _ = file.Remove() }()

	event.WithFile(file.OriginalName(), file.MimeType(), file.Size())
	span.SetAttributes(instrumentation.NewSpanAttributeBuilder().
		WithMimeType(file.MimeType()).
		WithFileSize(file.Size()).
		Build()...)

	info, err := h.relay(ctx, file)
	if err != nil {
		h.uploadFailed(ctx, w, logger, event, file.Size(), err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.metrics.RecordUpload(ctx, instrumentation.StatusSuccess, file.Size())
	h.audit.LogEvent(event.WithFileID(info.ID).CompleteSuccess())
	logger.Info("file uploaded",
		logging.Status(logging.StatusSuccess),
		logging.FileID(info.ID),
		logging.FileName(info.Name),
		logging.Size(file.Size()))

	writeJSON(w, http.StatusOK, uploadResponse{
		Status: statusUploaded,
		FileID: info.ID,
		Name:   info.Name,
		Link:   drive.PublicDownloadURL(info.ID),
	})
}

// stageUpload streams the first file part named UploadField into the staging
// area. Other parts are skipped.
func (h *Relay) stageUpload(r *http.Request) (*staging.File, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNoFile, err)
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, errNoFile
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}

		if part.FormName() != UploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		file, err := h.staging.Stage(part, part.FileName(), partMediaType(part))
		_ = part.Close()
		return file, err
	}
}

// relay uploads a staged file to the account's root folder and makes it
// publicly readable.
func (h *Relay) relay(ctx context.Context, file *staging.File) (*drive.FileInfo, error) {
	tok, err := h.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	uploader, err := h.newUploader(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}

	content, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = content.Close() }()

	info, err := uploader.UploadFile(ctx, file.OriginalName(), content, &drive.UploadOptions{
		ParentFolders: []string{drive.RootFolderID},
		MimeType:      file.MimeType(),
		Size:          file.Size(),
	})
	if err != nil {
		return nil, err
	}

	if _, err := uploader.ShareFile(ctx, info.ID, drive.PublicReadOptions()); err != nil {
		return nil, err
	}

	return info, nil
}

func (h *Relay) uploadFailed(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, event *instrumentation.RelayEvent, size int64, err error) {
	instrumentation.SetSpanError(trace.SpanFromContext(ctx), err)
	h.metrics.RecordUpload(ctx, instrumentation.StatusError, size)
	h.audit.LogEvent(event.CompleteWithError(err))

	attrs := []any{logging.Status(logging.StatusError), logging.Err(err)}
	if errors.Is(err, google.ErrNoToken) {
		attrs = append(attrs, slog.Bool("needs_consent", true))
	}
	logger.Error("upload failed", attrs...)

	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   msgUploadFailed,
		Details: err.Error(),
	})
}

func partMediaType(part *multipart.Part) string {
	if ct := part.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return defaultMediaType
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
