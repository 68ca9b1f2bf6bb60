package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name written next to config files.
const ChecksumFile = ".checksums"

// HashFileResult captures the checksum of one config file.
type HashFileResult struct {
	Path string
	Hash string
}

// LockReport captures checksum generation for one directory.
type LockReport struct {
	ConfigDir    string
	ChecksumPath string
	Written      bool
	Files        []HashFileResult
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// GenerateChecksums hashes files and writes one .checksums manifest per
// directory, keyed by base name. With dryRun nothing is written.
func GenerateChecksums(files []string, dryRun bool) ([]LockReport, error) {
	byDir := groupByDir(files)

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	reports := make([]LockReport, 0, len(dirs))
	for _, dir := range dirs {
		manifest := ChecksumManifest{
			Version:     1,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			Hashes:      make(map[string]string),
		}
		report := LockReport{ConfigDir: dir, ChecksumPath: filepath.Join(dir, ChecksumFile)}

		for _, path := range byDir[dir] {
			hash, err := ComputeBlake3Hash(path)
			if err != nil {
				return nil, fmt.Errorf("failed to hash %s: %w", path, err)
			}
			manifest.Hashes[filepath.Base(path)] = hash
			report.Files = append(report.Files, HashFileResult{Path: path, Hash: hash})
		}

		if !dryRun {
			data, err := yaml.Marshal(manifest)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal checksums: %w", err)
			}
			// Write with restrictive permissions (contains expected hashes).
			if err := os.WriteFile(report.ChecksumPath, data, 0o600); err != nil {
				return nil, fmt.Errorf("failed to write checksums: %w", err)
			}
			report.Written = true
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'tgrelay config lock'): %w", err)
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

func groupByDir(paths []string) map[string][]string {
	out := make(map[string][]string)
	for _, p := range paths {
		dir := filepath.Dir(p)
		out[dir] = append(out[dir], p)
	}
	return out
}
