package errors

import "fmt"

// Convenience functions for common error patterns

// State and configuration errors

// ConfigMissing marks an absent state or configuration file. Non-fatal by
// contract: audit consumers treat it as "nothing to check yet".
func ConfigMissing(path string) *DepotError {
	return New(CategoryConfig, SeverityWarning, "state file not found").
		WithContext("path", path)
}

// ConfigParse marks a present but malformed state or configuration file.
func ConfigParse(path string, cause error) *DepotError {
	return Wrap(cause, CategoryParse, SeverityError, "state file malformed").
		WithContext("path", path)
}

func ConfigRequired(field string) *DepotError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

// Network errors

func Network(url string, cause error) *DepotError {
	return WrapRetryable(cause, CategoryNetwork, SeverityWarning, "network request failed").
		WithContext("url", url)
}

func HTTPStatus(url string, status int) *DepotError {
	retryable := status >= 500 || status == 429
	e := &DepotError{
		Category:  CategoryNetwork,
		Severity:  SeverityWarning,
		Message:   fmt.Sprintf("unexpected HTTP status %d", status),
		Retryable: retryable,
	}
	return e.WithContext("url", url).WithContext("status", status)
}

// Artifact integrity errors

// ChecksumMismatch is terminal for the artifact in question. It is never
// retryable and never downgraded to a warning.
func ChecksumMismatch(name, want, got string) *DepotError {
	return New(CategoryChecksum, SeverityError, fmt.Sprintf("checksum mismatch: want %s, got %s", want, got)).
		WithContext("name", name).
		WithContext("want", want).
		WithContext("got", got)
}

func UnsupportedFormat(name string) *DepotError {
	return New(CategoryArchive, SeverityError, "unsupported archive format").
		WithContext("name", name)
}

func PlatformUnsupported(goos, goarch string) *DepotError {
	return New(CategoryPlatform, SeverityError, fmt.Sprintf("unsupported platform %s/%s", goos, goarch)).
		WithContext("os", goos).
		WithContext("arch", goarch)
}

// Cache and filesystem errors

func CacheWrite(path string, cause error) *DepotError {
	return Wrap(cause, CategoryFileSystem, SeverityError, "cache write failed").
		WithContext("path", path)
}

func ArchiveExtract(path string, cause error) *DepotError {
	return Wrap(cause, CategoryArchive, SeverityError, "archive extraction failed").
		WithContext("path", path)
}

// Git errors

func GitSync(url string, cause error) *DepotError {
	return WrapRetryable(cause, CategoryGit, SeverityWarning, "state repository sync failed").
		WithContext("url", url)
}

// Internal errors

func InternalError(message string, cause error) *DepotError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
