package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	appName = "cruxdeb"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/cruxdeb or /run/user/<uid>/cruxdeb
//	macOS:   ~/Library/Caches/cruxdeb/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, appName)
	}
	return filepath.Join(xdg.CacheHome, appName, "run")
}

// Default path to the Unix domain socket the daemon listens on.
//
//	Linux:   $XDG_RUNTIME_DIR/cruxdeb/cruxdeb.sock
func Socket() string {
	return filepath.Join(Runtime(), appName+".sock")
}

// Default path to the PID file.
//
//	Linux:   $XDG_RUNTIME_DIR/cruxdeb/cruxdeb.pid
func PIDFile() string {
	return filepath.Join(Runtime(), appName+".pid")
}

// Directory searched for the operator config file.
//
//	Linux:   $XDG_CONFIG_HOME/cruxdeb or ~/.config/cruxdeb
//	macOS:   ~/Library/Application Support/cruxdeb
func Config() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// Directory for downloaded source tarballs.
//
//	Linux:   $XDG_CACHE_HOME/cruxdeb/downloads or ~/.cache/cruxdeb/downloads
//	macOS:   ~/Library/Caches/cruxdeb/downloads
func Downloads() string {
	return filepath.Join(xdg.CacheHome, appName, "downloads")
}
