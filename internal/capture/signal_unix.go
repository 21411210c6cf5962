//go:build !windows

package capture

import (
	"os"
	"syscall"
)

var interruptSignal os.Signal = syscall.SIGINT
