package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"ffibind/internal/errors"
)

// Writer persists the files of a unit. All files are staged in a temporary
// directory next to the output and renamed into place only once every one
// of them was written.
type Writer struct {
	outputDir string
}

// NewWriter creates a writer for outputDir, creating it if needed.
func NewWriter(outputDir string) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, &errors.WriteError{Path: outputDir, Cause: fmt.Errorf("failed to create output directory: %w", err)}
	}
	return &Writer{outputDir: outputDir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.outputDir
}

// Write stores files and returns their final paths in sorted order. When
// any file cannot be put in place, the files already moved are removed and
// the files they replaced are restored, so a failed unit leaves the output
// directory as it was.
func (w *Writer) Write(runID string, files map[string][]byte) ([]string, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		if name != filepath.Base(name) {
			return nil, &errors.WriteError{Path: name, Cause: fmt.Errorf("file name must not contain a directory")}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	tempDir, err := os.MkdirTemp(w.outputDir, ".ffibind-"+runID+"-")
	if err != nil {
		return nil, &errors.WriteError{Path: w.outputDir, Cause: fmt.Errorf("failed to create temp directory: %w", err)}
	}
	keep := false
	defer func() {
		if !keep {
			os.RemoveAll(tempDir)
		}
	}()

	staged := filepath.Join(tempDir, "new")
	backups := filepath.Join(tempDir, "old")
	for _, dir := range []string{staged, backups} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return nil, &errors.WriteError{Path: dir, Cause: fmt.Errorf("failed to create temp directory: %w", err)}
		}
	}

	for _, name := range names {
		tempPath := filepath.Join(staged, name)
		if err := os.WriteFile(tempPath, files[name], 0o644); err != nil {
			return nil, &errors.WriteError{Path: tempPath, Cause: fmt.Errorf("failed to write temp file: %w", err)}
		}
	}

	var moved []replacement
	paths := make([]string, 0, len(names))
	for _, name := range names {
		r, err := replace(filepath.Join(staged, name), filepath.Join(w.outputDir, name), filepath.Join(backups, name))
		if err != nil {
			rollback(moved)
			if left, _ := os.ReadDir(backups); len(left) > 0 {
				keep = true
				Logger().Warn("replaced files could not be restored", zap.String("backups", backups))
			}
			return nil, err
		}
		moved = append(moved, r)
		paths = append(paths, r.final)
	}
	return paths, nil
}

// replacement is a file moved into the output directory. backup holds the
// file it replaced, if any.
type replacement struct {
	final  string
	backup string
}

func replace(src, final, backup string) (replacement, error) {
	r := replacement{final: final}
	info, err := os.Lstat(final)
	switch {
	case err == nil && info.IsDir():
		return r, &errors.WriteError{Path: final, Cause: fmt.Errorf("a directory is in the way")}
	case err == nil:
		if err := os.Rename(final, backup); err != nil {
			return r, &errors.WriteError{Path: final, Cause: fmt.Errorf("failed to back up existing file: %w", err)}
		}
		r.backup = backup
	case !os.IsNotExist(err):
		return r, &errors.WriteError{Path: final, Cause: err}
	}

	if err := os.Rename(src, final); err != nil {
		if r.backup != "" {
			_ = os.Rename(r.backup, final)
		}
		return r, &errors.WriteError{Path: final, Cause: fmt.Errorf("failed to rename temp file: %w", err)}
	}
	return r, nil
}

// rollback undoes moved in reverse order.
func rollback(moved []replacement) {
	for i := len(moved) - 1; i >= 0; i-- {
		r := moved[i]
		if err := os.Remove(r.final); err != nil {
			Logger().Warn("failed to remove partial output", zap.String("path", r.final), zap.Error(err))
			continue
		}
		if r.backup == "" {
			continue
		}
		if err := os.Rename(r.backup, r.final); err != nil {
			Logger().Warn("failed to restore replaced file", zap.String("path", r.final), zap.Error(err))
		}
	}
}
