//go:build windows

package capture

import "os"

var interruptSignal os.Signal = os.Kill
