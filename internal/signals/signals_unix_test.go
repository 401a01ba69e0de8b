//go:build !windows

package signals

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForSignal(t *testing.T) {
	tests := []struct {
		sig      os.Signal
		want     Kind
		shutdown bool
	}{
		{os.Interrupt, Interrupt, true},
		{syscall.SIGTERM, Terminate, true},
		{syscall.SIGHUP, Hangup, true},
		{syscall.SIGQUIT, Break, false},
	}

	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			got, ok := kindForSignal(tt.sig)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.shutdown, got.IsShutdown())
		})
	}

	_, ok := kindForSignal(syscall.SIGUSR1)
	assert.False(t, ok)
}

func TestOS_Unsubscribe(t *testing.T) {
	o := NewOS()
	unsubscribe := o.Subscribe(func(Kind) {})
	assert.NotPanics(t, func() {
		unsubscribe()
		unsubscribe()
	})
}
