package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyDatabase   = "database"
	KeyVersion    = "version"
	KeyPlatform   = "platform"
	KeyReleaseTag = "release_tag"
	KeyAsset      = "asset"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyKind       = "kind"
	KeyStatus     = "status"
	KeyCount      = "count"
	KeyBytes      = "bytes"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Database(db string) slog.Attr    { return slog.String(KeyDatabase, db) }
func Version(v string) slog.Attr      { return slog.String(KeyVersion, v) }
func Platform(p string) slog.Attr     { return slog.String(KeyPlatform, p) }
func ReleaseTag(t string) slog.Attr   { return slog.String(KeyReleaseTag, t) }
func Asset(name string) slog.Attr     { return slog.String(KeyAsset, name) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Kind(k string) slog.Attr         { return slog.String(KeyKind, k) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func Bytes(n int64) slog.Attr         { return slog.Int64(KeyBytes, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
