package logging

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// rotate renames the active log file to <stem>.<YYYYMMDDhhmmss><ext>
// in the same directory, then deletes the oldest archives so that at
// most maxOldFiles remain. maxOldFiles = 0 keeps everything.
func rotate(path string, maxOldFiles int, now time.Time) error {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)

	archive := filepath.Join(dir, stem+"."+now.Format("20060102150405")+ext)
	if err := os.Rename(path, archive); err != nil {
		return err
	}

	if maxOldFiles <= 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var archives []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ext {
			continue
		}
		entryStem := strings.TrimSuffix(name, ext)
		if entryStem != stem && strings.HasPrefix(entryStem, stem) {
			archives = append(archives, name)
		}
	}

	if len(archives) <= maxOldFiles {
		return nil
	}

	// Archive names embed the rotation timestamp, so an ascending name
	// sort is a chronological sort.
	sort.Strings(archives)
	for _, name := range archives[:len(archives)-maxOldFiles] {
		os.Remove(filepath.Join(dir, name))
	}
	return nil
}
