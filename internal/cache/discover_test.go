package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeAgedFile creates a cache file whose mtime is pushed into the past
// so the min-age guard sees it as settled.
func writeAgedFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Failed to age %s: %v", name, err)
	}
	return path
}

func TestDiscoverGroupsByHostAndUID(t *testing.T) {
	dir := t.TempDir()
	writeAgedFile(t, dir, "1700000100_abc123_deadbeef.json", time.Minute)
	writeAgedFile(t, dir, "1700000400_abc123_deadbeef.json", time.Minute)
	writeAgedFile(t, dir, "1700000100_ffee99_deadbeef.json", time.Minute)

	groups, err := Discover(dir, 15*time.Second)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}

	key := GroupKey{HostHash: "deadbeef", UID: "abc123"}
	if len(groups[key]) != 2 {
		t.Errorf("Expected 2 files for uid abc123, got %d", len(groups[key]))
	}
	for _, file := range groups[key] {
		if file.UID != "abc123" || file.HostHash != "deadbeef" {
			t.Errorf("Expected parsed identity abc123/deadbeef, got %s/%s", file.UID, file.HostHash)
		}
	}
}

func TestDiscoverSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeAgedFile(t, dir, "1700000100_abc123_deadbeef.json", time.Minute)
	writeAgedFile(t, dir, "notes.txt", time.Minute)
	writeAgedFile(t, dir, "1700000100_abc123_deadbeef.json.tmp", time.Minute)
	writeAgedFile(t, dir, "1700000100_ABC123_deadbeef.json", time.Minute) // uppercase uid
	if err := os.Mkdir(filepath.Join(dir, "1_a_b.json"), 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	groups, err := Discover(dir, 15*time.Second)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("Expected only the canonical file's group, got %d groups", len(groups))
	}
}

func TestDiscoverSkipsYoungFiles(t *testing.T) {
	dir := t.TempDir()
	writeAgedFile(t, dir, "1700000100_abc123_deadbeef.json", time.Minute)

	// Fresh file, possibly still being written by an upload.
	path := filepath.Join(dir, "1700000400_abc123_deadbeef.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("Failed to write fresh file: %v", err)
	}

	groups, err := Discover(dir, 15*time.Second)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	key := GroupKey{HostHash: "deadbeef", UID: "abc123"}
	if len(groups[key]) != 1 {
		t.Fatalf("Expected the fresh file to be skipped, got %d files", len(groups[key]))
	}
	if groups[key][0].Timestamp != 1700000100 {
		t.Errorf("Expected the aged file, got timestamp %d", groups[key][0].Timestamp)
	}
}

func TestDiscoverEmptyDirectory(t *testing.T) {
	groups, err := Discover(t.TempDir(), 15*time.Second)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("Expected no groups, got %d", len(groups))
	}
}
