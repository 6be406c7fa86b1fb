package util

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/coah80/mergebot/internal/config"
)

var unsafeFilenameRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
var multiSpaceRe = regexp.MustCompile(`\s+`)

func SanitizeFilename(filename string) string {
	s := unsafeFilenameRe.ReplaceAllString(filename, "_")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// UniquePath returns dir/name, or dir/base_N.ext when that name is taken.
func UniquePath(dir, name string) string {
	p := filepath.Join(dir, name)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		p = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}

// RemoveWorkDir deletes a session working directory and prunes its parent
// when that leaves it empty.
func RemoveWorkDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	// only succeeds when empty
	os.Remove(filepath.Dir(dir))
	return nil
}

// CleanupStale removes entries under root older than maxAge. Leftovers only
// exist after a crash, since every pipeline removes its own directory.
func CleanupStale(root string, maxAge time.Duration) int {
	now := time.Now()
	removed := 0
	users, err := os.ReadDir(root)
	if err != nil {
		return 0
	}
	for _, u := range users {
		p := filepath.Join(root, u.Name())
		info, err := u.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			if err := os.RemoveAll(p); err == nil {
				log.Printf("[Cleanup] Removed stale: %s", u.Name())
				removed++
			}
		}
	}

	if ds, err := GetDiskSpace(root); err == nil {
		log.Printf("[DiskSpace] %.1fGB free / %.1fGB total (%.1fGB used)", ds.AvailGB, ds.TotalGB, ds.UsedGB)
		if ds.AvailGB < float64(config.DiskSpaceMinGB) {
			log.Printf("[DiskSpace] WARNING: Only %.1fGB free, below %dGB threshold!", ds.AvailGB, config.DiskSpaceMinGB)
		}
	}
	return removed
}

// EnsureDir creates root if needed and clears anything left from a previous
// run.
func EnsureDir(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		os.RemoveAll(filepath.Join(root, e.Name()))
	}
	return nil
}
