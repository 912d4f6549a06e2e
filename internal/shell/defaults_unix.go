//go:build !windows

package shell

// DefaultOptions prefers bash at the usual locations and falls back to the
// POSIX shell.
func DefaultOptions() Options {
	return Options{
		PreferredName: "bash",
		PreferredPaths: []string{
			"/bin/bash",
			"/usr/bin/bash",
			"/usr/local/bin/bash",
			"/opt/homebrew/bin/bash",
		},
		PreferredArgs: []string{"-c"},
		Fallback: Shell{
			Name: "sh",
			Path: "/bin/sh",
			Args: []string{"-c"},
		},
	}
}
