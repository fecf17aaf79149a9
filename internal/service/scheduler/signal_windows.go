//go:build windows

package scheduler

import "os"

var stopSignals = []os.Signal{os.Interrupt}
