package codegen

import (
	"fmt"
	"os"
	"path/filepath"
)

// Writer persists artifacts to disk.
type Writer struct{}

// Write creates <root>/<X>/ and writes the artifact's three files, returning
// their paths. Existing files are overwritten.
func (Writer) Write(root string, a Artifact) ([]string, error) {
	if root == "" {
		return nil, fmt.Errorf("output directory is not set")
	}

	files := a.Files("")
	paths := make([]string, 0, len(files))
	for _, f := range files {
		dst := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return paths, fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
		}
		if err := os.WriteFile(dst, []byte(f.Content), 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", dst, err)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}
