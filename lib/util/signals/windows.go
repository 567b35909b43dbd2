//go:build windows
// +build windows

package signals

import (
	"os"
	"os/signal"
)

func init() {
	signal.Notify(sigChan, os.Interrupt)
}

// Handle dispatches received signals until StopHandle closes the channel.
func Handle() {
	for sig := range sigChan {
		if sig == os.Interrupt {
			handleShutdown()
		}
	}
}
