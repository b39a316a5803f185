package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

const appName = "pingcounter"

// HomeDir returns the real user's home directory, even when running under sudo.
// Raw ICMP sockets usually need root, but the database and config should
// stay where the invoking user expects them.
func HomeDir() (string, error) {
	// Check SUDO_USER first, set by sudo to the original invoking user.
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err == nil {
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// RealUser returns the UID and GID of the real invoking user when running
// under sudo (via SUDO_UID / SUDO_GID). Returns ok=false when not under sudo.
func RealUser() (uid, gid int, ok bool) {
	sudoUID := os.Getenv("SUDO_UID")
	if sudoUID == "" {
		return 0, 0, false
	}
	u, err := strconv.ParseInt(sudoUID, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	var g int64
	if sudoGID := os.Getenv("SUDO_GID"); sudoGID != "" {
		g, _ = strconv.ParseInt(sudoGID, 10, 64)
	}
	return int(u), int(g), true
}

// ChownToRealUser changes the owner of path to the real invoking user when
// running under sudo. It is a no-op when not under sudo.
func ChownToRealUser(path string) {
	if uid, gid, ok := RealUser(); ok {
		os.Chown(path, uid, gid)
	}
}

// DataDir returns ~/.local/share/pingcounter, creating it if needed.
func DataDir() (string, error) {
	return ensure(".local", "share", appName)
}

// ConfigDir returns ~/.config/pingcounter, creating it if needed.
func ConfigDir() (string, error) {
	return ensure(".config", appName)
}

// DefaultConfigFile returns the config file used when --config is not given.
func DefaultConfigFile() string {
	dir, err := ConfigDir()
	if err != nil {
		return "pingcounter.yaml"
	}
	return filepath.Join(dir, "pingcounter.yaml")
}

func ensure(elem ...string) (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(append([]string{home}, elem...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	ChownToRealUser(dir)
	return dir, nil
}
