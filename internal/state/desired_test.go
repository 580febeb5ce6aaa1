package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
)

const desiredFixture = `{
  "databases": {
    "mysql": {
      "displayName": "MySQL",
      "status": "completed",
      "versions": {"8.4": true, "5.7": true, "5.6": false},
      "platforms": {"linux-x64": true, "darwin-arm64": true, "win32-x64": false}
    },
    "postgres": {
      "displayName": "PostgreSQL",
      "status": "in-progress",
      "versions": {"16.3": true},
      "platforms": {"linux-x64": true}
    },
    "mariadb": {
      "displayName": "MariaDB",
      "status": "not-started",
      "versions": {"11.4": true},
      "platforms": {"linux-x64": true}
    }
  }
}`

func TestParseDesired_PreservesFileOrder(t *testing.T) {
	s, err := ParseDesired([]byte(desiredFixture))
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())

	var ids []string
	for _, db := range s.Databases() {
		ids = append(ids, db.ID)
	}
	require.Equal(t, []string{"mysql", "postgres", "mariadb"}, ids)

	mysql, ok := s.Database("mysql")
	require.True(t, ok)
	require.Equal(t, []string{"8.4", "5.7"}, mysql.EnabledVersions(), "disabled versions are excluded, order kept")
	require.Equal(t, []platform.ID{platform.LinuxX64, platform.DarwinARM64}, mysql.EnabledPlatforms())
}

func TestParseDesired_EnabledLookups(t *testing.T) {
	s, err := ParseDesired([]byte(desiredFixture))
	require.NoError(t, err)

	mysql, _ := s.Database("mysql")
	require.True(t, mysql.VersionEnabled("8.4"))
	require.False(t, mysql.VersionEnabled("5.6"), "explicitly disabled")
	require.False(t, mysql.VersionEnabled("9.0"), "undeclared")
	require.True(t, mysql.PlatformEnabled(platform.LinuxX64))
	require.False(t, mysql.PlatformEnabled(platform.Win32X64), "explicitly disabled")
}

func TestDesiredDatabase_Active(t *testing.T) {
	s, err := ParseDesired([]byte(desiredFixture))
	require.NoError(t, err)

	mysql, _ := s.Database("mysql")
	postgres, _ := s.Database("postgres")
	mariadb, _ := s.Database("mariadb")

	require.True(t, mysql.Active(), "completed is active")
	require.True(t, postgres.Active(), "in-progress is active")
	require.False(t, mariadb.Active(), "not-started is not active")
}

func TestParseDesired_EmptyAndNullSections(t *testing.T) {
	s, err := ParseDesired([]byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())

	s, err = ParseDesired([]byte(`{"databases": null}`))
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())

	s, err = ParseDesired([]byte(`{"databases": {"redis": {"status": "in-progress"}}}`))
	require.NoError(t, err)
	redis, ok := s.Database("redis")
	require.True(t, ok)
	require.Empty(t, redis.EnabledVersions())
	require.Empty(t, redis.EnabledPlatforms())
}

func TestParseDesired_UnknownPlatformRejected(t *testing.T) {
	_, err := ParseDesired([]byte(`{"databases": {"mysql": {"platforms": {"os2-warp": true}}}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "os2-warp")
}

func TestParseDesired_Malformed(t *testing.T) {
	for name, in := range map[string]string{
		"not json":         `{[`,
		"databases array":  `{"databases": []}`,
		"duplicate ids":    `{"databases": {"mysql": {}, "mysql": {}}}`,
		"version non-bool": `{"databases": {"mysql": {"versions": {"8.4": "yes"}}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDesired([]byte(in))
			require.Error(t, err)
		})
	}
}

func TestLoadDesired_MissingFileIsConfigCategory(t *testing.T) {
	_, err := LoadDesired(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	require.True(t, errors.IsCategory(err, errors.CategoryConfig))
}

func TestLoadDesired_MalformedFileIsParseCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "databases.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"databases": 12}`), 0o644))

	_, err := LoadDesired(path)
	require.Error(t, err)
	require.True(t, errors.IsCategory(err, errors.CategoryParse))
}

func TestLoadDesired_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "databases.json")
	require.NoError(t, os.WriteFile(path, []byte(desiredFixture), 0o644))

	s, err := LoadDesired(path)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
}
