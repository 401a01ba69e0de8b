//go:build !windows

package signals

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// OS delivers process signals. SIGQUIT (Ctrl+\) plays the part of a break request.
type OS struct{}

func NewOS() *OS {
	return &OS{}
}

var osSignals = map[os.Signal]Kind{
	os.Interrupt:    Interrupt,
	syscall.SIGTERM: Terminate,
	syscall.SIGHUP:  Hangup,
	syscall.SIGQUIT: Break,
}

func kindForSignal(s os.Signal) (Kind, bool) {
	k, ok := osSignals[s]
	return k, ok
}

func (o *OS) Subscribe(h Handler) func() {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})

	sigs := make([]os.Signal, 0, len(osSignals))
	for s := range osSignals {
		sigs = append(sigs, s)
	}
	signal.Notify(ch, sigs...)

	go func() {
		for {
			select {
			case s := <-ch:
				if k, ok := kindForSignal(s); ok {
					h(k)
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
