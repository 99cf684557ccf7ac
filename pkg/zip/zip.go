// Package zip bundles generated artifacts into a single archive for download.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
)

// Entry is one file inside the archive.
type Entry struct {
	Name string
	Data []byte
}

// Write streams the entries to w as a zip archive. Entry names are taken
// as-is, so callers are responsible for keeping them unique.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, entry := range entries {
		f, err := zw.Create(entry.Name)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", entry.Name, err)
		}
		if _, err := f.Write(entry.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", entry.Name, err)
		}
	}
	return zw.Close()
}
