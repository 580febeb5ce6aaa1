package pkgdesc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
	"git.home.luguber.info/inful/dbdepot/internal/release"
	"git.home.luguber.info/inful/dbdepot/internal/state"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type fakeSource struct {
	releases []release.Release
	bodies   map[string]string
	listErr  error
}

func (f *fakeSource) ListReleases(_ context.Context) ([]release.Release, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.releases, nil
}

func (f *fakeSource) DownloadAsset(_ context.Context, assetURL string) (io.ReadCloser, int64, error) {
	body, ok := f.bodies[assetURL]
	if !ok {
		return nil, 0, fmt.Errorf("no body registered for %s", assetURL)
	}
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

// fixtureSource publishes mysql-8.4 for linux-x64 and win32-x64 with a
// complete checksum manifest.
func fixtureSource() *fakeSource {
	manifestBody := sha256Hex("linux bits") + "  mysql-8.4-linux-x64.tar.gz\n" +
		sha256Hex("win bits") + "  mysql-8.4-win32-x64.zip\n"
	return &fakeSource{
		bodies: map[string]string{"https://api.test/assets/3": manifestBody},
		releases: []release.Release{{
			ID:  77,
			Tag: "mysql-8.4",
			Assets: []release.Asset{
				{ID: 1, Name: "mysql-8.4-linux-x64.tar.gz", DownloadURL: "https://dl.test/mysql-8.4-linux-x64.tar.gz"},
				{ID: 2, Name: "mysql-8.4-win32-x64.zip", DownloadURL: "https://dl.test/mysql-8.4-win32-x64.zip"},
				{ID: 3, Name: "checksums.txt", APIURL: "https://api.test/assets/3"},
			},
		}},
	}
}

func TestGenerateWritesDescriptorsAndIndex(t *testing.T) {
	f := fixtureSource()
	out := t.TempDir()
	bins := []state.BinarySpec{
		{Name: "server", Path: "bin/mysqld"},
		{Name: "client", Path: "bin/mysql"},
	}

	res, err := NewGenerator(f, "").Generate(context.Background(), Request{
		Database: "mysql", Version: "8.4", Binaries: bins, OutDir: out,
	})

	require.NoError(t, err)
	require.Equal(t, []platform.ID{platform.LinuxX64, platform.Win32X64}, res.Platforms)
	require.Empty(t, res.Skipped)
	require.Len(t, res.Files, 2)

	data, err := os.ReadFile(filepath.Join(out, "mysql-8.4-linux-x64.json"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(data), "\n"))

	var desc struct {
		Name     string             `json:"name"`
		Version  string             `json:"version"`
		OS       string             `json:"os"`
		CPU      string             `json:"cpu"`
		URL      string             `json:"url"`
		SHA256   string             `json:"sha256"`
		Binaries []state.BinarySpec `json:"binaries"`
	}
	require.NoError(t, json.Unmarshal(data, &desc))
	require.Equal(t, "@dbdepot/mysql-linux-x64", desc.Name)
	require.Equal(t, "8.4", desc.Version)
	require.Equal(t, "linux", desc.OS)
	require.Equal(t, "x64", desc.CPU)
	require.Equal(t, "https://dl.test/mysql-8.4-linux-x64.tar.gz", desc.URL)
	require.Equal(t, sha256Hex("linux bits"), desc.SHA256)
	require.Equal(t, bins, desc.Binaries)

	idx, err := os.ReadFile(res.Index)
	require.NoError(t, err)
	var index struct {
		Name     string                       `json:"name"`
		Version  string                       `json:"version"`
		Packages map[string]map[string]string `json:"packages"`
	}
	require.NoError(t, json.Unmarshal(idx, &index))
	require.Equal(t, "@dbdepot/mysql", index.Name)
	require.Equal(t, "8.4", index.Version)
	require.Len(t, index.Packages, 2)
	require.Equal(t, "@dbdepot/mysql-win32-x64", index.Packages["win32-x64"]["name"])
	require.Equal(t, sha256Hex("win bits"), index.Packages["win32-x64"]["sha256"])
}

func TestGenerateDeterministicBytes(t *testing.T) {
	f := fixtureSource()
	bins := []state.BinarySpec{{Name: "server", Path: "bin/mysqld"}}
	gen := NewGenerator(f, "@acme")

	read := func(dir string) map[string]string {
		out := map[string]string{}
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			require.NoError(t, err)
			out[e.Name()] = string(data)
		}
		return out
	}

	first, second := t.TempDir(), t.TempDir()
	_, err := gen.Generate(context.Background(), Request{Database: "mysql", Version: "8.4", Binaries: bins, OutDir: first})
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), Request{Database: "mysql", Version: "8.4", Binaries: bins, OutDir: second})
	require.NoError(t, err)

	require.Equal(t, read(first), read(second))
}

func TestGenerateSkipsPlatformMissingFromManifest(t *testing.T) {
	f := fixtureSource()
	f.bodies["https://api.test/assets/3"] = sha256Hex("linux bits") + "  mysql-8.4-linux-x64.tar.gz\n"
	out := t.TempDir()

	res, err := NewGenerator(f, "").Generate(context.Background(), Request{
		Database: "mysql", Version: "8.4", OutDir: out,
	})

	require.NoError(t, err)
	require.Equal(t, []platform.ID{platform.LinuxX64}, res.Platforms)
	require.Equal(t, []platform.ID{platform.Win32X64}, res.Skipped)
	require.Len(t, res.Files, 1)

	idx, err := os.ReadFile(res.Index)
	require.NoError(t, err)
	var index struct {
		Packages map[string]map[string]string `json:"packages"`
	}
	require.NoError(t, json.Unmarshal(idx, &index))
	require.Len(t, index.Packages, 1)
}

func TestGenerateEmptyBinariesArray(t *testing.T) {
	f := fixtureSource()
	out := t.TempDir()

	_, err := NewGenerator(f, "").Generate(context.Background(), Request{
		Database: "mysql", Version: "8.4", OutDir: out,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, "mysql-8.4-linux-x64.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"binaries": []`)
}

func TestGenerateUnknownRelease(t *testing.T) {
	f := fixtureSource()

	_, err := NewGenerator(f, "").Generate(context.Background(), Request{
		Database: "postgres", Version: "16.3", OutDir: t.TempDir(),
	})

	require.Error(t, err)
	require.True(t, errors.IsCategory(err, errors.CategoryConfig))
}

func TestGenerateNoManifestAsset(t *testing.T) {
	f := fixtureSource()
	f.releases[0].Assets = f.releases[0].Assets[:2]

	_, err := NewGenerator(f, "").Generate(context.Background(), Request{
		Database: "mysql", Version: "8.4", OutDir: t.TempDir(),
	})

	require.Error(t, err)
	require.True(t, errors.IsCategory(err, errors.CategoryChecksum))
}
