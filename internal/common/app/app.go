package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// ShutdownRequester is implemented by anything that can be asked to begin an orderly shutdown
type ShutdownRequester interface {
	RequestShutdown()
}

// NotifyOnShutdownSignal calls RequestShutdown on the supplied handle every time a SIGINT or SIGTERM is received.
// Signals stop being forwarded once ctx is done.
func NotifyOnShutdownSignal(ctx context.Context, handle ShutdownRequester) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		for {
			select {
			case sig := <-c:
				log.Infof("Received %s, requesting shutdown", sig)
				handle.RequestShutdown()
			case <-ctx.Done():
				return
			}
		}
	}()
}
