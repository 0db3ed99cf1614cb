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

const checksumFile = ".checksums"

// ChecksumManifest is the on-disk .checksums document. Hashes are keyed by
// path relative to the root config directory.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockReport describes the outcome of Lock.
type LockReport struct {
	ChecksumPath string            `json:"checksum_path"`
	Files        map[string]string `json:"files"`
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

// Lock hashes the root config and every included file and writes the
// manifest next to the root config.
func Lock(configPath string) (*LockReport, error) {
	files, err := SourceFiles(configPath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(files[0])

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(files)),
	}
	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return nil, fmt.Errorf("relative path for %s: %w", f, err)
		}
		hash, err := ComputeBlake3Hash(f)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", f, err)
		}
		manifest.Hashes[filepath.ToSlash(rel)] = hash
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	path := filepath.Join(dir, checksumFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return &LockReport{ChecksumPath: path, Files: manifest.Hashes}, nil
}

// Check verifies every config file against the manifest. A missing manifest
// is an error here, unlike during Load.
func Check(configPath string) error {
	files, err := SourceFiles(configPath)
	if err != nil {
		return err
	}
	dir := filepath.Dir(files[0])
	manifest, err := LoadChecksums(dir)
	if err != nil {
		return err
	}
	if manifest == nil {
		return fmt.Errorf("no %s manifest in %s (run 'conduit config lock')", checksumFile, dir)
	}
	return verifyFiles(dir, manifest, files)
}

// LoadChecksums reads the manifest from dir. It returns (nil, nil) when none exists.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, checksumFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
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

func verifyAgainstManifest(dir string, files []string) error {
	manifest, err := LoadChecksums(dir)
	if err != nil {
		return err
	}
	if manifest == nil {
		return nil
	}
	return verifyFiles(dir, manifest, files)
}

func verifyFiles(dir string, manifest *ChecksumManifest, files []string) error {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, f := range sorted {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", f, err)
		}
		expected, ok := manifest.Hashes[filepath.ToSlash(rel)]
		if !ok {
			return fmt.Errorf("config file %s has no hash in %s\n"+
				"Run: conduit config lock --config %s", rel, checksumFile, dir)
		}
		if err := VerifyFileHash(f, expected); err != nil {
			return fmt.Errorf("config verification failed for %s: %w\n"+
				"If you edited this file intentionally, run: conduit config lock --config %s", f, err, dir)
		}
	}
	return nil
}
