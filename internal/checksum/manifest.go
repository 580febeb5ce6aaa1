package checksum

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ManifestName is the canonical filename of the checksum manifest asset
// attached to a release. LegacyManifestName is a misnamed variant produced
// by earlier publishing tooling; it is deleted whenever a manifest is
// republished so only the canonical asset survives.
const (
	ManifestName       = "checksums.txt"
	LegacyManifestName = "checksum.txt"
)

// Manifest is an ordered mapping filename → lowercase 64-hex digest.
// Iteration follows insertion order (file order after a parse); the
// serialized form is sorted by filename so identical content always
// produces identical bytes.
type Manifest struct {
	order []string
	sums  map[string]string
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{sums: make(map[string]string)}
}

// Set inserts or replaces an entry. New names append to the iteration
// order; replacing keeps the original position.
func (m *Manifest) Set(name, hexSum string) {
	if _, ok := m.sums[name]; !ok {
		m.order = append(m.order, name)
	}
	m.sums[name] = strings.ToLower(hexSum)
}

// Get returns the digest recorded for name.
func (m *Manifest) Get(name string) (string, bool) {
	sum, ok := m.sums[name]
	return sum, ok
}

// Has reports whether name has a recorded digest.
func (m *Manifest) Has(name string) bool {
	_, ok := m.sums[name]
	return ok
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.order)
}

// Names returns the entry names in insertion order.
func (m *Manifest) Names() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// ParseManifest reads the on-disk manifest form: one entry per line,
// `<64-hex>` + two spaces + filename. A `*` prefix on the filename (the
// binary-mode marker some checksum tools emit) is tolerated and stripped;
// it is never written back. Duplicate filenames are rejected because the
// mapping invariant requires unique keys.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := NewManifest()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		hexPart, rest, found := strings.Cut(line, " ")
		if !found {
			return nil, fmt.Errorf("manifest line %d: no separator", lineNo)
		}
		hexPart = strings.ToLower(hexPart)
		if !isHex64(hexPart) {
			return nil, fmt.Errorf("manifest line %d: malformed digest", lineNo)
		}

		name := strings.TrimLeft(rest, " ")
		name = strings.TrimPrefix(name, "*")
		if name == "" {
			return nil, fmt.Errorf("manifest line %d: missing filename", lineNo)
		}
		if m.Has(name) {
			return nil, fmt.Errorf("manifest line %d: duplicate entry for %q", lineNo, name)
		}

		m.Set(name, hexPart)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Serialize renders the deterministic on-disk form: entries sorted by
// filename, two-space separator, trailing newline. An empty manifest
// serializes to zero bytes.
func (m *Manifest) Serialize() []byte {
	if m.Len() == 0 {
		return nil
	}

	names := make([]string, len(m.order))
	copy(names, m.order)
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(m.sums[name])
		b.WriteString("  ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	return []byte(b.String())
}
