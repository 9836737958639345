// Package homedir resolves the current user's home directory.
package homedir

import "os"

// Get returns the home directory, preferring $HOME so tests and
// containers can override it.  When neither source resolves, the
// current directory is used; config paths stay usable either way.
func Get() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return h
}
