package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/livefeed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/livefeed/internal/logger"
)

// Reload asks the refresher loop for an immediate refresh. It doesn't wait
// for the result.
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !d.Refresher.Trigger() {
			d.Logger.Warn("refresh already pending",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte("refresh already pending, please wait\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
			return
		}

		d.Logger.Info("manual refresh triggered via endpoint",
			logger.String("remote_ip", r.RemoteAddr))
		w.WriteHeader(http.StatusAccepted)
		if _, err := w.Write([]byte("refresh triggered\n")); err != nil {
			d.Logger.Debug("failed to write response", logger.Error(err))
		}
	}
}
