package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScannedFile is a game file found under a scan root.
type ScannedFile struct {
	Path string
	Rel  string // Relative to the scan root, slash separated
	Size uint32
}

// ScanFiles walks root and returns the files whose extension matches one
// of exts, case-insensitively, sorted by relative path.
func ScanFiles(root string, exts ...string) ([]ScannedFile, error) {
	var files []ScannedFile

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !hasExt(path, exts) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		size := info.Size()
		const maxUint32 = int64(^uint32(0))
		if size < 0 || size > maxUint32 {
			return fmt.Errorf("file too large: %s (size %d exceeds %d bytes)", path, size, maxUint32)
		}

		files = append(files, ScannedFile{
			Path: path,
			Rel:  filepath.ToSlash(relPath),
			Size: uint32(size),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

func hasExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
