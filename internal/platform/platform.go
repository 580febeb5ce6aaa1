// Package platform defines the fixed identifier universe for prebuilt
// database-server binaries and detection of the host platform.
//
// Identifiers follow the <os>-<cpu> convention used by the package
// ecosystems the binaries are published for (linux-x64, darwin-arm64,
// win32-x64, ...). The universe is closed: anything outside the five
// supported identifiers is rejected at parse time.
package platform

import "strings"

// ID is a supported platform identifier.
type ID string

// The closed platform universe, in canonical order.
const (
	LinuxX64    ID = "linux-x64"
	LinuxARM64  ID = "linux-arm64"
	DarwinX64   ID = "darwin-x64"
	DarwinARM64 ID = "darwin-arm64"
	Win32X64    ID = "win32-x64"
)

// All returns the platform universe in canonical order. The returned slice
// is a fresh copy; callers may reorder it.
func All() []ID {
	return []ID{LinuxX64, LinuxARM64, DarwinX64, DarwinARM64, Win32X64}
}

// Parse validates s against the universe.
func Parse(s string) (ID, bool) {
	id := ID(s)
	return id, id.Valid()
}

// Valid reports whether id is one of the five supported identifiers.
func (id ID) Valid() bool {
	switch id {
	case LinuxX64, LinuxARM64, DarwinX64, DarwinARM64, Win32X64:
		return true
	}
	return false
}

func (id ID) String() string { return string(id) }

// OS returns the identifier's OS segment ("linux", "darwin", "win32").
func (id ID) OS() string {
	if i := strings.LastIndex(string(id), "-"); i > 0 {
		return string(id)[:i]
	}
	return string(id)
}

// CPU returns the identifier's CPU segment ("x64", "arm64").
func (id ID) CPU() string {
	if i := strings.LastIndex(string(id), "-"); i >= 0 && i+1 < len(id) {
		return string(id)[i+1:]
	}
	return ""
}

// IsWindows reports whether id targets Windows. Extraction skips the
// executable-bit pass for these platforms.
func (id ID) IsWindows() bool {
	return id.OS() == "win32"
}

// FindIn returns the platform identifier contained in name, if any.
// Release assets embed their platform in the filename
// (mysql-8.4-linux-x64.tar.gz), which is how binary assets are told apart
// from manifests and stray uploads. The five identifiers are mutually
// non-overlapping as substrings, so the first hit is the only hit.
func FindIn(name string) (ID, bool) {
	for _, id := range All() {
		if strings.Contains(name, string(id)) {
			return id, true
		}
	}
	return "", false
}
