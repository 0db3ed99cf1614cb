package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// FSInfo describes the filesystem backing a path.
type FSInfo struct {
	// Inspected is the nearest existing ancestor of the requested path.
	Inspected string
	Type      string
	Network   bool
}

// InspectFilesystem reports the filesystem type for path, walking up to the
// nearest existing ancestor when path does not exist yet.
func InspectFilesystem(path string) (FSInfo, error) {
	return inspectFilesystemWithDetector(path, statfsType)
}

// RequireLocalFilesystem fails when path lives on a network filesystem. The
// status database depends on working file locks.
func RequireLocalFilesystem(path string) error {
	return requireLocalWithDetector(path, statfsType)
}

func requireLocalWithDetector(path string, detector func(string) (string, error)) error {
	info, err := inspectFilesystemWithDetector(path, detector)
	if err != nil {
		return err
	}
	if info.Network {
		return fmt.Errorf(
			"database path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking, set state.path to local disk",
			path,
			info.Type,
		)
	}
	return nil
}

func inspectFilesystemWithDetector(path string, detector func(string) (string, error)) (FSInfo, error) {
	if path == "" {
		return FSInfo{}, fmt.Errorf("path is empty")
	}

	inspect, err := nearestExistingPath(path)
	if err != nil {
		return FSInfo{}, fmt.Errorf("resolve path %q: %w", path, err)
	}

	fsType, err := detector(inspect)
	if err != nil {
		return FSInfo{}, fmt.Errorf("detect filesystem for %q: %w", inspect, err)
	}

	return FSInfo{Inspected: inspect, Type: fsType, Network: isNetworkFilesystem(fsType)}, nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
