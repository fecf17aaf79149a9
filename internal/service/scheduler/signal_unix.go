//go:build !windows

package scheduler

import (
	"os"

	"golang.org/x/sys/unix"
)

var stopSignals = []os.Signal{unix.SIGHUP, unix.SIGINT, unix.SIGTERM, unix.SIGQUIT}
