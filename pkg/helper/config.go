package helper

import (
	"os"
	"path/filepath"
)

// SystemConfigDir is the last place GetCfgPath looks
const SystemConfigDir = "/etc/roomhub"

// EnvConfigDir names an extra directory searched before the user config dir
const EnvConfigDir = "ROOMHUB_CONFIG_DIR"

// GetCfgPath resolves filename to the first existing candidate:
//  1. filename itself when absolute
//  2. ./{filename}, then ./configs/{filename}
//  3. $ROOMHUB_CONFIG_DIR/{filename}
//  4. the user config dir, $XDG_CONFIG_HOME/roomhub/{filename} on Linux
//
// Nothing found falls back to /etc/roomhub/{filename}, which the loader then
// reports as missing.
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	for _, dir := range searchDirs() {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return abs
		}
	}
	return filepath.Join(SystemConfigDir, filename)
}

func searchDirs() []string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil && wd != "" {
		dirs = append(dirs, wd, filepath.Join(wd, "configs"))
	}
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		dirs = append(dirs, dir)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "roomhub"))
	}
	return dirs
}
