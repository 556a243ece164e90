package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

const Path = "/health"

// Handler answers 204 while checker is healthy and 503 with the failure text otherwise.
func Handler(checker Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		err := checker.Check()
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.WithError(err).Warn("Health check failed")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte(err.Error())); err != nil {
			log.WithError(err).Error("Failed to write health check response")
		}
	})
}

func Register(mux *http.ServeMux, checker Checker) {
	mux.Handle(Path, Handler(checker))
}
