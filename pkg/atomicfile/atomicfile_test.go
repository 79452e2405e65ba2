package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")

	if err := Write(path, 0644, func(w io.Writer) error {
		_, err := io.WriteString(w, "first")
		return err
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := Write(path, 0644, func(w io.Writer) error {
		_, err := io.WriteString(w, "second")
		return err
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected second, got %q", data)
	}
}

func TestWriteFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := os.WriteFile(path, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	err := Write(path, 0644, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return errors.New("disk full")
	})
	if err == nil {
		t.Fatal("Expected error")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Errorf("Original file changed: %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Temporary file left behind: %v", entries)
	}
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	if err := Backup(path, path+".bak"); err != nil {
		t.Errorf("Backup of missing file should succeed: %v", err)
	}

	os.WriteFile(path, []byte("content"), 0644)
	if err := Backup(path, path+".bak"); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	data, _ := os.ReadFile(path + ".bak")
	if string(data) != "content" {
		t.Errorf("Unexpected backup content: %q", data)
	}
}
