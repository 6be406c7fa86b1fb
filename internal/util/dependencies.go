package util

import (
	"fmt"
	"os/exec"
)

var RcloneAvailable bool

// CheckDependencies reports the external tools on PATH and returns false
// when a required one is missing.
func CheckDependencies() bool {
	deps := []struct {
		name     string
		required bool
	}{
		{"ffmpeg", true},
		{"ffprobe", true},
		{"rclone", false},
	}

	ok := true
	for _, dep := range deps {
		path, err := exec.LookPath(dep.name)
		if err != nil {
			if dep.required {
				fmt.Printf("✗ %s not found (REQUIRED)\n", dep.name)
				ok = false
			} else {
				fmt.Printf("- %s not found (optional)\n", dep.name)
			}
			continue
		}
		fmt.Printf("✓ %s found: %s\n", dep.name, path)
		if dep.name == "rclone" {
			RcloneAvailable = true
		}
	}
	return ok
}
