//go:build windows

package shell

import (
	"os"
	"path/filepath"
	"strings"
)

const powerShell7Path = `C:\Program Files\PowerShell\7\pwsh.exe`

var powerShellArgs = []string{"-NoLogo", "-NoProfile", "-NonInteractive", "-Command"}

// DefaultOptions prefers PowerShell 7 and falls back to the Windows
// PowerShell that ships with the OS.
func DefaultOptions() Options {
	paths := []string{powerShell7Path}
	if pf := os.Getenv("ProgramFiles"); pf != "" {
		alt := filepath.Join(pf, "PowerShell", "7", "pwsh.exe")
		if !strings.EqualFold(alt, powerShell7Path) {
			paths = append(paths, alt)
		}
	}

	return Options{
		PreferredName:  "PowerShell 7",
		PreferredPaths: paths,
		PreferredArgs:  append([]string(nil), powerShellArgs...),
		Fallback: Shell{
			Name: "Windows PowerShell",
			Path: "powershell.exe",
			Args: append([]string(nil), powerShellArgs...),
		},
	}
}
