package httpapi

import (
	"expvar"
	"net/http"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/observations", app.postObservationsHandler)
	mux.HandleFunc("/inventory", app.inventoryHandler)
	mux.HandleFunc("/events", app.eventsHandler)
	mux.HandleFunc("/events/", app.eventsSubHandler)
	mux.HandleFunc("/roster", app.rosterHandler)
	mux.HandleFunc("/catalog", app.catalogHandler)
	mux.HandleFunc("/catalog.csv", app.catalogCSVHandler)
	mux.HandleFunc("/healthz", app.healthHandler)
	mux.HandleFunc("/debug/metrics", app.metricsHandler)
	mux.Handle("/debug/vars", expvar.Handler())
	return WithRequestID(WithLogging(mux))
}
