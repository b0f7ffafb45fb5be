package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/storefront-mcp/internal/defaults"
)

// runInit writes starter files into dir: storefront.yaml, .env.example
// and the data directory. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing storefront workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", dataDir)

	for _, f := range []struct {
		name    string
		content []byte
		perm    os.FileMode
	}{
		{"storefront.yaml", defaults.ConfigYAML, 0o600},
		{".env.example", defaults.EnvFile, 0o644},
	} {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content, f.perm)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Fprintf(w, "  ✓ %s\n", path)
		} else {
			fmt.Fprintf(w, "  - %s (exists, kept)\n", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Copy .env.example to .env and fill in the API keys, then point")
	fmt.Fprintln(w, "server.script in storefront.yaml at your tool server.")
	return nil
}

// writeIfMissing writes content to path only if nothing exists there.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
