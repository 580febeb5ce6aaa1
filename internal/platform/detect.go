package platform

import (
	"runtime"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
)

// Detector resolves the platform identifier of the host. It is an
// interface so tests and cross-platform tooling can substitute a fixed
// answer instead of relying on the process's own runtime.
type Detector interface {
	Detect() (ID, error)
}

// RealDetector implements Detector from the running process's build target.
type RealDetector struct{}

// NewDetector creates a new host platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect maps runtime.GOOS/GOARCH onto the identifier universe.
func (d *RealDetector) Detect() (ID, error) {
	return FromGOOSArch(runtime.GOOS, runtime.GOARCH)
}

// Static is a Detector returning a fixed identifier. Useful for tooling
// that operates on behalf of another platform (cache warming, descriptor
// generation) and in tests.
type Static ID

func (s Static) Detect() (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", errors.New(errors.CategoryPlatform, errors.SeverityError, "invalid platform identifier").
			WithContext("platform", string(s))
	}
	return id, nil
}

// FromGOOSArch translates a GOOS/GOARCH pair to a platform identifier.
// Pairs outside the supported matrix yield a platform-category error.
func FromGOOSArch(goos, goarch string) (ID, error) {
	switch goos {
	case "linux":
		switch goarch {
		case "amd64":
			return LinuxX64, nil
		case "arm64":
			return LinuxARM64, nil
		}
	case "darwin":
		switch goarch {
		case "amd64":
			return DarwinX64, nil
		case "arm64":
			return DarwinARM64, nil
		}
	case "windows":
		if goarch == "amd64" {
			return Win32X64, nil
		}
	}
	return "", errors.PlatformUnsupported(goos, goarch)
}
