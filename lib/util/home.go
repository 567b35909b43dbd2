package util

import (
	"os"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// UserHome returns the current user's home directory. It falls back to $HOME
// (or USERPROFILE on Windows), then to the working directory, rather than
// panicking in containerized environments where no home is set.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	if home := os.Getenv("HOME"); home != "" {
		log.WithError(err).Warn("os.UserHomeDir failed, falling back to $HOME")
		return home
	}
	if home := os.Getenv("USERPROFILE"); home != "" {
		log.WithError(err).Warn("os.UserHomeDir failed, falling back to USERPROFILE")
		return home
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithError(err).Warn("no home directory available, using working directory")
		return wd
	}
	panic("unable to determine home directory; set $HOME")
}

// CheckFileExists reports whether fpath exists and is stat-able.
func CheckFileExists(fpath string) bool {
	_, e := os.Stat(fpath)
	return e == nil
}
