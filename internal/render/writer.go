package render

import (
	"os"
	"path/filepath"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
)

// Writer places one output file per router under OutputDir. Files are
// written to a temp name and renamed into place so readers never observe
// a partial filter.
type Writer struct {
	OutputDir string
}

// WriteRouter writes content to <outputdir>/<hostname>.txt and reports
// whether the file actually changed. An existing identical file, compared
// by digest, is left untouched so its mtime keeps marking the last real
// change.
func (w *Writer) WriteRouter(hostname, content string) (bool, error) {
	path := filepath.Join(w.OutputDir, hostname+".txt")

	if old, err := os.ReadFile(path); err == nil {
		if xxhash.Sum64(old) == xxhash.Sum64String(content) {
			return false, nil
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return false, errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, errors.Wrapf(err, "rename %s", path)
	}
	return true, nil
}
