package pack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forPelevin/sessionscribe/internal/types"
)

const FileName = "package.json"

// Export validates pkg and writes it to root/package.json atomically.
func Export(root string, pkg types.Package) error {
	if err := Validate(pkg, root); err != nil {
		return err
	}
	b, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode package: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(root, ".package-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(root, FileName))
}

// Load reads root/package.json and refuses packages with an unknown schema or
// a manifest that no longer matches the files.
func Load(root string) (types.Package, error) {
	pkg, err := Read(root)
	if err != nil {
		return types.Package{}, err
	}
	if stale := Verify(pkg, root); len(stale) > 0 {
		return types.Package{}, stale[0].Err()
	}
	return pkg, nil
}

// Read decodes root/package.json and checks the schema version only.
func Read(root string) (types.Package, error) {
	b, err := os.ReadFile(filepath.Join(root, FileName))
	if err != nil {
		return types.Package{}, err
	}
	var pkg types.Package
	if err := json.Unmarshal(b, &pkg); err != nil {
		return types.Package{}, fmt.Errorf("decode %s: %w", FileName, err)
	}
	if !KnownSchema(pkg.SchemaVersion) {
		return types.Package{}, fmt.Errorf("%w: %q", types.ErrUnknownSchema, pkg.SchemaVersion)
	}
	return pkg, nil
}
