package platform

import "testing"

func TestAll_CanonicalOrder(t *testing.T) {
	want := []ID{LinuxX64, LinuxARM64, DarwinX64, DarwinARM64, Win32X64}
	got := All()
	if len(got) != len(want) {
		t.Fatalf("All() returned %d identifiers, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("All()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"linux-x64", true},
		{"linux-arm64", true},
		{"darwin-x64", true},
		{"darwin-arm64", true},
		{"win32-x64", true},
		{"win32-arm64", false},
		{"linux-386", false},
		{"freebsd-x64", false},
		{"", false},
		{"Linux-X64", false},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			id, ok := Parse(tc.in)
			if ok != tc.valid {
				t.Fatalf("Parse(%q) ok = %v, want %v", tc.in, ok, tc.valid)
			}
			if ok && string(id) != tc.in {
				t.Errorf("Parse(%q) = %s, want identity", tc.in, id)
			}
		})
	}
}

func TestID_Segments(t *testing.T) {
	tests := []struct {
		id      ID
		os      string
		cpu     string
		windows bool
	}{
		{LinuxX64, "linux", "x64", false},
		{LinuxARM64, "linux", "arm64", false},
		{DarwinX64, "darwin", "x64", false},
		{DarwinARM64, "darwin", "arm64", false},
		{Win32X64, "win32", "x64", true},
	}

	for _, tc := range tests {
		if got := tc.id.OS(); got != tc.os {
			t.Errorf("%s.OS() = %s, want %s", tc.id, got, tc.os)
		}
		if got := tc.id.CPU(); got != tc.cpu {
			t.Errorf("%s.CPU() = %s, want %s", tc.id, got, tc.cpu)
		}
		if got := tc.id.IsWindows(); got != tc.windows {
			t.Errorf("%s.IsWindows() = %v, want %v", tc.id, got, tc.windows)
		}
	}
}

func TestFindIn(t *testing.T) {
	tests := []struct {
		name  string
		want  ID
		found bool
	}{
		{"mysql-8.4-linux-x64.tar.gz", LinuxX64, true},
		{"mysql-8.4-linux-arm64.tar.gz", LinuxARM64, true},
		{"postgres-16.3-darwin-arm64.tar.gz", DarwinARM64, true},
		{"mariadb-11.4-win32-x64.zip", Win32X64, true},
		{"checksums.txt", "", false},
		{"README.md", "", false},
		{"mysql-8.4-source.tar.gz", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := FindIn(tc.name)
			if ok != tc.found {
				t.Fatalf("FindIn(%q) ok = %v, want %v", tc.name, ok, tc.found)
			}
			if id != tc.want {
				t.Errorf("FindIn(%q) = %s, want %s", tc.name, id, tc.want)
			}
		})
	}
}
