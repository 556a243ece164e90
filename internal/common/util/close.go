package util

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// CloseResource closes c, logging rather than returning any failure.  It is meant for deferred cleanup.
func CloseResource(logger *log.Entry, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.WithError(err).WithField("resource", name).Warn("Failed to close cleanly")
		return
	}
	logger.WithField("resource", name).Debug("Closed")
}
