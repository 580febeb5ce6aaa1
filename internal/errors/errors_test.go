package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestDepotError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DepotError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CategoryConfig, SeverityFatal, "configuration invalid"),
			expected: "config (fatal): configuration invalid",
		},
		{
			name:     "error with cause",
			err:      Wrap(fmt.Errorf("file not found"), CategoryConfig, SeverityFatal, "failed to load config"),
			expected: "config (fatal): failed to load config: file not found",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := test.err.Error()
			if result != test.expected {
				t.Errorf("Error() = %q, want %q", result, test.expected)
			}
		})
	}
}

func TestDepotError_WithContext(t *testing.T) {
	err := New(CategoryNetwork, SeverityWarning, "listing failed").
		WithContext("url", "https://api.example.com").
		WithContext("page", 3)

	if err.Context == nil {
		t.Fatal("Context should not be nil")
	}

	if err.Context["url"] != "https://api.example.com" {
		t.Errorf("Context[url] = %v, want https://api.example.com", err.Context["url"])
	}

	if err.Context["page"] != 3 {
		t.Errorf("Context[page] = %v, want 3", err.Context["page"])
	}
}

func TestIsCategory(t *testing.T) {
	configErr := New(CategoryConfig, SeverityFatal, "config error")
	checksumErr := New(CategoryChecksum, SeverityError, "digest error")
	wrappedErr := fmt.Errorf("loading state: %w", configErr)
	standardErr := fmt.Errorf("standard error")

	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		expected bool
	}{
		{"config error matches config category", configErr, CategoryConfig, true},
		{"config error doesn't match checksum category", configErr, CategoryChecksum, false},
		{"checksum error matches checksum category", checksumErr, CategoryChecksum, true},
		{"wrapped error still matches through the chain", wrappedErr, CategoryConfig, true},
		{"standard error doesn't match any category", standardErr, CategoryConfig, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsCategory(test.err, test.category)
			if result != test.expected {
				t.Errorf("IsCategory() = %v, want %v", result, test.expected)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	retryableErr := Retryable(CategoryNetwork, SeverityWarning, "timeout")
	nonRetryableErr := New(CategoryConfig, SeverityFatal, "invalid")
	standardErr := fmt.Errorf("standard error")

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable error", retryableErr, true},
		{"non-retryable error", nonRetryableErr, false},
		{"standard error", standardErr, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsRetryable(test.err)
			if result != test.expected {
				t.Errorf("IsRetryable() = %v, want %v", result, test.expected)
			}
		})
	}
}

func TestConvenienceFunctions(t *testing.T) {
	t.Run("ConfigMissing", func(t *testing.T) {
		err := ConfigMissing("/state/databases.json")
		if err.Category != CategoryConfig {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfig)
		}
		if err.Severity != SeverityWarning {
			t.Errorf("Severity = %v, want %v", err.Severity, SeverityWarning)
		}
		if err.Context["path"] != "/state/databases.json" {
			t.Errorf("Context[path] = %v, want /state/databases.json", err.Context["path"])
		}
	})

	t.Run("Network", func(t *testing.T) {
		cause := fmt.Errorf("timeout")
		err := Network("https://example.com", cause)
		if err.Category != CategoryNetwork {
			t.Errorf("Category = %v, want %v", err.Category, CategoryNetwork)
		}
		if !err.Retryable {
			t.Error("Network should be retryable")
		}
		if !stdErrors.Is(err, cause) {
			t.Errorf("Cause should match wrapped cause: %v", cause)
		}
	})

	t.Run("ChecksumMismatch", func(t *testing.T) {
		err := ChecksumMismatch("mysql-8.4-linux-x64.tar.gz", "aaaa", "bbbb")
		if err.Category != CategoryChecksum {
			t.Errorf("Category = %v, want %v", err.Category, CategoryChecksum)
		}
		if err.Retryable {
			t.Error("ChecksumMismatch must never be retryable")
		}
		if err.Context["want"] != "aaaa" || err.Context["got"] != "bbbb" {
			t.Errorf("Context digests = %v/%v, want aaaa/bbbb", err.Context["want"], err.Context["got"])
		}
	})

	t.Run("HTTPStatus", func(t *testing.T) {
		if err := HTTPStatus("https://example.com", 503); !err.Retryable {
			t.Error("5xx should be retryable")
		}
		if err := HTTPStatus("https://example.com", 404); err.Retryable {
			t.Error("404 should not be retryable")
		}
	})
}
