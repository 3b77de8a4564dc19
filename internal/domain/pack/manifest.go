package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forPelevin/sessionscribe/internal/types"
)

// HashFile returns the manifest entry for rel, a slash-separated path under root.
func HashFile(root, rel string) (types.ManifestEntry, error) {
	if err := checkRel(rel); err != nil {
		return types.ManifestEntry{}, err
	}
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return types.ManifestEntry{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return types.ManifestEntry{}, fmt.Errorf("hash %s: %w", rel, err)
	}
	return types.ManifestEntry{Path: rel, SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// BuildManifest hashes every path, deduplicated and sorted.
func BuildManifest(root string, paths []string) (types.Manifest, error) {
	seen := map[string]bool{}
	var uniq []string
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		uniq = append(uniq, p)
	}
	sort.Strings(uniq)

	m := types.Manifest{Hashes: make([]types.ManifestEntry, 0, len(uniq))}
	for _, p := range uniq {
		e, err := HashFile(root, p)
		if err != nil {
			return types.Manifest{}, fmt.Errorf("manifest: %w", err)
		}
		m.Hashes = append(m.Hashes, e)
	}
	return m, nil
}

// Stale describes a manifest entry that no longer matches the file on disk.
type Stale struct {
	Path    string
	Want    string
	Got     string
	Missing bool
}

func (s Stale) Err() error {
	return &types.ChecksumMismatch{Path: s.Path, Want: s.Want, Got: s.Got}
}

// Verify rehashes every manifest entry and reports the stale ones in manifest order.
func Verify(pkg types.Package, root string) []Stale {
	var out []Stale
	for _, e := range pkg.Manifest.Hashes {
		live, err := HashFile(root, e.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			out = append(out, Stale{Path: e.Path, Want: e.SHA256, Missing: true})
		case err != nil:
			out = append(out, Stale{Path: e.Path, Want: e.SHA256, Got: err.Error()})
		case live.SHA256 != e.SHA256 || live.Size != e.Size:
			out = append(out, Stale{Path: e.Path, Want: e.SHA256, Got: live.SHA256})
		}
	}
	return out
}

func checkRel(rel string) error {
	if rel == "" || path.IsAbs(rel) || filepath.IsAbs(rel) {
		return fmt.Errorf("artifact path %q must be relative", rel)
	}
	if c := path.Clean(rel); c != rel || c == ".." || strings.HasPrefix(c, "../") {
		return fmt.Errorf("artifact path %q is not a clean path inside the package", rel)
	}
	return nil
}

// relInside returns p relative to root when p lies inside root.
func relInside(root, p string) (string, bool) {
	if p == "" {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
