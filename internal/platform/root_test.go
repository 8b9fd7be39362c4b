package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindRoot(t *testing.T) {
	// base/
	//   data/ (crystaldata.yaml)
	//     sub/nested/
	//   journaled/ (journal/checkpoint.json)
	//     sub/
	//   empty/
	baseDir := t.TempDir()
	dataDir := filepath.Join(baseDir, "data")
	nestedDir := filepath.Join(dataDir, "sub", "nested")
	journaledDir := filepath.Join(baseDir, "journaled")
	emptyDir := filepath.Join(baseDir, "empty")

	for _, dir := range []string{nestedDir, filepath.Join(journaledDir, "journal"), filepath.Join(journaledDir, "sub"), emptyDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dataDir, "crystaldata.yaml"), []byte("directory: .\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(journaledDir, "journal", "checkpoint.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		startPath string
		wantRoot  string
		wantErr   bool
	}{
		{"Start at Root", dataDir, dataDir, false},
		{"Start Nested Deeply", nestedDir, dataDir, false},
		{"Journal Checkpoint Marker", filepath.Join(journaledDir, "sub"), journaledDir, false},
		{"No Root Found", emptyDir, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindRoot(tt.startPath)
			if (err != nil) != tt.wantErr {
				t.Errorf("FindRoot() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != "" && filepath.Clean(got) != filepath.Clean(tt.wantRoot) {
				t.Errorf("FindRoot() = %v, want %v", got, tt.wantRoot)
			}
		})
	}
}
