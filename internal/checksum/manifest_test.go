package checksum

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	sumA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	sumB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	sumC = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

func TestParseManifest_PreservesFileOrder(t *testing.T) {
	in := sumB + "  mysql-8.4-win32-x64.zip\n" +
		sumA + "  mysql-8.4-linux-x64.tar.gz\n"

	m, err := ParseManifest(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())
	require.Equal(t, []string{"mysql-8.4-win32-x64.zip", "mysql-8.4-linux-x64.tar.gz"}, m.Names())

	sum, ok := m.Get("mysql-8.4-linux-x64.tar.gz")
	require.True(t, ok)
	require.Equal(t, sumA, sum)
}

func TestParseManifest_ToleratesBinaryMarker(t *testing.T) {
	// Both shasum output modes must parse to the same mapping.
	in := sumA + " *mysql-8.4-linux-x64.tar.gz\n" +
		sumB + "  mysql-8.4-darwin-arm64.tar.gz\n"

	m, err := ParseManifest(strings.NewReader(in))
	require.NoError(t, err)

	sum, ok := m.Get("mysql-8.4-linux-x64.tar.gz")
	require.True(t, ok, "star-prefixed name should be stripped to the plain filename")
	require.Equal(t, sumA, sum)
}

func TestParseManifest_RejectsDuplicates(t *testing.T) {
	in := sumA + "  same.tar.gz\n" + sumB + "  same.tar.gz\n"
	_, err := ParseManifest(strings.NewReader(in))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")
}

func TestParseManifest_MalformedLines(t *testing.T) {
	cases := map[string]string{
		"no separator":     sumA + "\n",
		"short digest":     "abcd  file.tar.gz\n",
		"non-hex digest":   strings.Repeat("zz", 32) + "  file.tar.gz\n",
		"missing filename": sumA + "  \n",
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(in))
			require.Error(t, err)
		})
	}
}

func TestSerialize_SortedWithTrailingNewline(t *testing.T) {
	m := NewManifest()
	m.Set("zzz.tar.gz", sumC)
	m.Set("aaa.tar.gz", sumA)
	m.Set("mmm.zip", sumB)

	out := string(m.Serialize())
	want := sumA + "  aaa.tar.gz\n" +
		sumB + "  mmm.zip\n" +
		sumC + "  zzz.tar.gz\n"
	require.Equal(t, want, out)
	require.True(t, strings.HasSuffix(out, "\n"))
	require.NotContains(t, out, "*")
}

func TestSerialize_Deterministic(t *testing.T) {
	build := func(names []string) []byte {
		m := NewManifest()
		for i, n := range names {
			sum := strings.Repeat(string(rune('a'+i)), 64)
			m.Set(n, sum)
		}
		return m.Serialize()
	}

	a := build([]string{"one.tar.gz", "two.zip", "three.tar.gz"})
	b := build([]string{"three.tar.gz", "one.tar.gz", "two.zip"})
	require.True(t, bytes.Equal(a, b), "same mapping must serialize to identical bytes regardless of insertion order")
}

func TestManifest_RoundTrip(t *testing.T) {
	orig := NewManifest()
	orig.Set("mysql-8.4-linux-x64.tar.gz", sumA)
	orig.Set("mysql-8.4-darwin-arm64.tar.gz", sumB)
	orig.Set("mysql-8.4-win32-x64.zip", sumC)

	parsed, err := ParseManifest(bytes.NewReader(orig.Serialize()))
	require.NoError(t, err)
	require.Equal(t, orig.Len(), parsed.Len())
	for _, name := range orig.Names() {
		want, _ := orig.Get(name)
		got, ok := parsed.Get(name)
		require.True(t, ok, "entry %s lost in round trip", name)
		require.Equal(t, want, got)
	}
}

func TestSerialize_EmptyManifest(t *testing.T) {
	require.Empty(t, NewManifest().Serialize())
}

func TestParseManifest_EmptyInput(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, 0, m.Len())
}
