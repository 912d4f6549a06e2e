//go:build windows

package shell

import "os"

// isExecutable reports whether path is a regular file. Windows has no
// execute bit; launchability is decided by the extension.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
