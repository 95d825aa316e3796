// Package logging provides structured logging utilities for driverelay.
//
// This package centralizes attribute naming so that every component logs the
// same keys through the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "upload")
//	logger.Info("file uploaded",
//	    logging.FileID(id),
//	    logging.Status(logging.StatusSuccess))
//
// # Security Considerations
//
// OAuth tokens are never logged directly. Use SanitizeToken to record that a
// token was present without exposing any of its content.
package logging
