package cache

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// File is one ready-to-process cache file, with the identity fields
// parsed out of its name.
type File struct {
	Timestamp int64
	UID       string
	HostHash  string
	Path      string
}

// GroupKey identifies one agent instance's stream of cache files. The
// host hash exists only for filename disambiguation; uid is the real
// identity.
type GroupKey struct {
	HostHash string
	UID      string
}

// Discover lists dir and returns the processable cache files grouped by
// (hosthash, uid). Files whose names do not match the cache pattern are
// ignored, as are files modified within minAge since those may still be
// mid-write by a concurrent upload.
func Discover(dir string, minAge time.Duration) (map[GroupKey][]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-minAge)
	groups := make(map[GroupKey][]File)

	for _, entry := range entries {
		if entry.IsDir() || !filenameRegex.MatchString(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".json")
		parts := strings.SplitN(name, "_", 3)
		timestamp, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}

		key := GroupKey{HostHash: parts[2], UID: parts[1]}
		groups[key] = append(groups[key], File{
			Timestamp: timestamp,
			UID:       parts[1],
			HostHash:  parts[2],
			Path:      filepath.Join(dir, entry.Name()),
		})
	}

	return groups, nil
}
