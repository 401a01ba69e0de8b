//go:build windows

package signals

import (
	"sync"
	"time"

	"golang.org/x/sys/windows"
)

// closeGrace bounds how long a close, logoff or shutdown event is held
// while the watch winds down. Windows ends the process once the handler
// returns and gives it about five seconds in any case.
const closeGrace = 4 * time.Second

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procSetConsoleCtrlHandler = kernel32.NewProc("SetConsoleCtrlHandler")
)

var consoleEvents = map[uint32]Kind{
	windows.CTRL_C_EVENT:        Interrupt,
	windows.CTRL_BREAK_EVENT:    Break,
	windows.CTRL_CLOSE_EVENT:    Terminate,
	windows.CTRL_LOGOFF_EVENT:   Hangup,
	windows.CTRL_SHUTDOWN_EVENT: Terminate,
}

func kindForCtrlEvent(ctrlType uint32) (Kind, bool) {
	k, ok := consoleEvents[ctrlType]
	return k, ok
}

// closesProcess reports whether Windows terminates the process as soon as
// the handler for ctrlType returns.
func closesProcess(ctrlType uint32) bool {
	switch ctrlType {
	case windows.CTRL_CLOSE_EVENT, windows.CTRL_LOGOFF_EVENT, windows.CTRL_SHUTDOWN_EVENT:
		return true
	}
	return false
}

// OS receives console control events through SetConsoleCtrlHandler, which
// keeps Ctrl+Break apart from Ctrl+C. The Go runtime reports both as
// os.Interrupt.
type OS struct{}

func NewOS() *OS {
	return &OS{}
}

func (o *OS) Subscribe(h Handler) func() {
	done := make(chan struct{})

	cb := windows.NewCallback(func(ctrlType uintptr) uintptr {
		k, ok := kindForCtrlEvent(uint32(ctrlType))
		if !ok {
			return 0
		}
		select {
		case <-done:
			return 0
		default:
		}

		h(k)

		if closesProcess(uint32(ctrlType)) {
			select {
			case <-done:
			case <-time.After(closeGrace):
			}
		}
		return 1
	})
	procSetConsoleCtrlHandler.Call(cb, 1)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			procSetConsoleCtrlHandler.Call(cb, 0)
		})
	}
}
