package release

import "testing"

func TestParseTag(t *testing.T) {
	tests := []struct {
		tag      string
		database string
		version  string
		ok       bool
	}{
		{"mysql-8.4", "mysql", "8.4", true},
		{"mysql-5.7.44", "mysql", "5.7.44", true},
		{"postgres-16.3", "postgres", "16.3", true},
		{"sql-server-2022", "sql-server", "2022", true},
		{"mariadb-11.4-rc1", "mariadb", "11.4-rc1", true},
		{"v1.2.3", "", "", false},
		{"mysql", "", "", false},
		{"mysql-", "", "", false},
		{"-8.4", "", "", false},
		{"", "", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.tag, func(t *testing.T) {
			db, ver, ok := ParseTag(tc.tag)
			if ok != tc.ok {
				t.Fatalf("ParseTag(%q) ok = %v, want %v", tc.tag, ok, tc.ok)
			}
			if db != tc.database || ver != tc.version {
				t.Errorf("ParseTag(%q) = (%q, %q), want (%q, %q)", tc.tag, db, ver, tc.database, tc.version)
			}
		})
	}
}

func TestMakeTag_RoundTrip(t *testing.T) {
	db, ver, ok := ParseTag(MakeTag("mysql", "8.4"))
	if !ok || db != "mysql" || ver != "8.4" {
		t.Errorf("round trip = (%q, %q, %v)", db, ver, ok)
	}
}

func TestAssetName(t *testing.T) {
	got := AssetName("mysql", "8.4", "linux-x64", "tar.gz")
	want := "mysql-8.4-linux-x64.tar.gz"
	if got != want {
		t.Errorf("AssetName = %q, want %q", got, want)
	}
}

func TestRelease_AssetLookup(t *testing.T) {
	r := Release{Assets: []Asset{{Name: "a.tar.gz"}, {Name: "checksums.txt"}}}

	if a, ok := r.Asset("checksums.txt"); !ok || a.Name != "checksums.txt" {
		t.Errorf("Asset lookup failed: %+v %v", a, ok)
	}
	if _, ok := r.Asset("missing"); ok {
		t.Error("lookup of absent asset should report false")
	}
}
