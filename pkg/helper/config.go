package helper

import (
	"os"
	"path/filepath"
)

// ConfigDir is searched last when a relative config file is not found locally.
const ConfigDir = "/etc/wuhost"

// GetCfgPath returns the path to the configuration file.
//
// Lookup order: absolute filename as-is, ./{filename}, ./configs/{filename},
// then ConfigDir/{filename}.
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}
	if p := findLocal(filename); p != "" {
		return p
	}
	return filepath.Join(ConfigDir, filename)
}

func findLocal(filename string) string {
	wd, err := os.Getwd()
	if err != nil || wd == "" {
		return ""
	}
	for _, candidate := range []string{
		filepath.Join(wd, filename),
		filepath.Join(wd, "configs", filename),
	} {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return abs
		}
	}
	return ""
}
