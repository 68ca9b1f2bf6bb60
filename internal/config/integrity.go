package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

// VerifyIntegrity checks loaded files against the .checksums manifest of
// their directory. A directory without a manifest yields a warning; a file
// missing from an existing manifest, or a hash mismatch, is an error.
func VerifyIntegrity(files []string) ([]string, error) {
	byDir := groupByDir(files)
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var warnings []string
	for _, dir := range dirs {
		manifest, err := LoadChecksums(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				warnings = append(warnings, fmt.Sprintf(
					"no %s manifest in %s; run 'tgrelay config lock' to enable integrity verification", ChecksumFile, dir))
				continue
			}
			return nil, err
		}

		for _, path := range byDir[dir] {
			expected, ok := manifest.Hashes[filepath.Base(path)]
			if !ok {
				return nil, fmt.Errorf("config file %s has no hash in %s\n"+
					"Run: tgrelay config lock --config %s", path, filepath.Join(dir, ChecksumFile), dir)
			}
			if err := VerifyFileHash(path, expected); err != nil {
				return nil, fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: tgrelay config lock", path, err)
			}
		}
	}
	return warnings, nil
}
