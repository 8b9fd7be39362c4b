package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

// Root indicators, checked in order.
var rootMarkers = []string{
	"crystaldata.yaml",
	filepath.Join("journal", "checkpoint.json"),
}

// FindRoot looks upwards from startDir for a data directory: one holding a
// crystaldata.yaml or a journal checkpoint. It returns the absolute path.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		for _, marker := range rootMarkers {
			if hasFile(dir, marker) {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("root not found")
}

func hasFile(dir, name string) bool {
	path := filepath.Join(dir, name)
	_, err := os.Stat(path)
	return err == nil
}
