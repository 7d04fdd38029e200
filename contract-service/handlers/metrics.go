package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsHandler serves the Prometheus registry the telemetry exporter
// writes to
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Pinger is satisfied by *sqlx.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
}

// NewHealthHandler reports healthy while the database answers a ping
func NewHealthHandler(service string, db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := HealthResponse{Status: "healthy", Service: service, Database: "up"}
		status := http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			body.Status = "unhealthy"
			body.Database = "down"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, body)
	}
}
