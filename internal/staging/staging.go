package staging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/teemow/driverelay/internal/logging"
)

// DefaultDir is the staging directory used when none is configured.
const DefaultDir = "uploads"

// Area is a directory that holds staged uploads.
type Area struct {
	dir    string
	logger *slog.Logger
}

// NewArea creates dir if needed and returns an Area rooted there.
func NewArea(dir string, logger *slog.Logger) (*Area, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", dir, err)
	}

	return &Area{dir: dir, logger: logger}, nil
}

// Dir returns the staging directory.
func (a *Area) Dir() string {
	return a.dir
}

// Stage copies r into a new file inside the area. On error nothing is left
// behind.
func (a *Area) Stage(r io.Reader, originalName, mimeType string) (*File, error) {
	path := filepath.Join(a.dir, uuid.NewString())

	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create staged file: %w", err)
	}

	size, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write staged file: %w", err)
	}

	a.logger.Debug("staged upload",
		logging.FileName(originalName),
		logging.Size(size),
		slog.String("path", path))

	return &File{
		path:         path,
		originalName: originalName,
		mimeType:     mimeType,
		size:         size,
		logger:       a.logger,
	}, nil
}

// File is a staged upload.
type File struct {
	path         string
	originalName string
	mimeType     string
	size         int64
	logger       *slog.Logger

	removeOnce sync.Once
	removeErr  error
}

// Path returns the on-disk location.
func (f *File) Path() string { return f.path }

// OriginalName returns the client-supplied filename.
func (f *File) OriginalName() string { return f.originalName }

// MimeType returns the client-supplied content type.
func (f *File) MimeType() string { return f.mimeType }

// Size returns the number of bytes staged.
func (f *File) Size() int64 { return f.size }

// Open opens the staged file for reading.
func (f *File) Open() (*os.File, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open staged file: %w", err)
	}
	return file, nil
}

// Remove deletes the staged file. It is safe to call more than once; a file
// that is already gone is not an error.
func (f *File) Remove() error {
	f.removeOnce.Do(func() {
		err := os.Remove(f.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			f.removeErr = fmt.Errorf("failed to remove staged file: %w", err)
			f.logger.Warn("failed to remove staged upload", slog.String("path", f.path), logging.Err(err))
			return
		}
		f.logger.Debug("removed staged upload", slog.String("path", f.path))
	})
	return f.removeErr
}
