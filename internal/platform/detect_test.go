package platform

import (
	"runtime"
	"testing"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
)

func TestFromGOOSArch(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         ID
		ok           bool
	}{
		{"linux", "amd64", LinuxX64, true},
		{"linux", "arm64", LinuxARM64, true},
		{"darwin", "amd64", DarwinX64, true},
		{"darwin", "arm64", DarwinARM64, true},
		{"windows", "amd64", Win32X64, true},
		{"windows", "arm64", "", false},
		{"linux", "386", "", false},
		{"freebsd", "amd64", "", false},
		{"js", "wasm", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.goos+"/"+tc.goarch, func(t *testing.T) {
			id, err := FromGOOSArch(tc.goos, tc.goarch)
			if tc.ok {
				if err != nil {
					t.Fatalf("FromGOOSArch(%s, %s) error: %v", tc.goos, tc.goarch, err)
				}
				if id != tc.want {
					t.Errorf("FromGOOSArch(%s, %s) = %s, want %s", tc.goos, tc.goarch, id, tc.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("FromGOOSArch(%s, %s) expected error, got %s", tc.goos, tc.goarch, id)
			}
			if !errors.IsCategory(err, errors.CategoryPlatform) {
				t.Errorf("expected platform category, got %v", errors.GetCategory(err))
			}
		})
	}
}

func TestRealDetector_MatchesHost(t *testing.T) {
	id, err := NewDetector().Detect()
	if err != nil {
		// CI targets are always within the matrix; anything else is news.
		t.Fatalf("Detect() on %s/%s: %v", runtime.GOOS, runtime.GOARCH, err)
	}
	if !id.Valid() {
		t.Errorf("Detect() returned invalid identifier %q", id)
	}
}

func TestStatic(t *testing.T) {
	id, err := Static(DarwinARM64).Detect()
	if err != nil {
		t.Fatalf("Static detect: %v", err)
	}
	if id != DarwinARM64 {
		t.Errorf("Static detect = %s, want %s", id, DarwinARM64)
	}

	if _, err := Static("atari-2600").Detect(); err == nil {
		t.Error("Static with invalid identifier should error")
	}
}
