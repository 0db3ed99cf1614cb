//go:build !darwin && !linux

package storage

// Unknown platforms are treated as local.
func statfsType(path string) (string, error) {
	return "unknown", nil
}
