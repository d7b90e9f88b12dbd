package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadStaticRenderersFileEmptyPath(t *testing.T) {
	got, err := loadStaticRenderersFile("")
	if err != nil {
		t.Fatalf("loadStaticRenderersFile: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestLoadStaticRenderersFileParsesList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderers.yaml")
	content := "renderers:\n  - 192.168.1.50\n  - 192.168.1.51\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := loadStaticRenderersFile(path)
	if err != nil {
		t.Fatalf("loadStaticRenderersFile: %v", err)
	}
	want := []string{"192.168.1.50", "192.168.1.51"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLoadStaticRenderersFileMissing(t *testing.T) {
	_, err := loadStaticRenderersFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
