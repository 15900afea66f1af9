// Package httpapi is the thin HTTP/WS surface of SPEC_FULL.md §4.J: a
// go-chi router binding exactly spec.md §6's contract to the Query
// Surface and the Realtime Broker. It adds no routing features beyond
// that contract, matching spec.md's Non-goal of "routing, docs
// generation" beyond what's consumed here.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/trafficmon/edge-pipeline/internal/broker"
	"github.com/trafficmon/edge-pipeline/internal/middleware"
	"github.com/trafficmon/edge-pipeline/internal/query"
)

const defaultRecentLimit = 100

// NewRouter wires spec.md §6's full HTTP/WS contract: /health,
// /api/vehicles/consolidated, /api/weather/current, /api/events/recent,
// and the WebSocket upgrade.
func NewRouter(q *query.Store, hub *broker.Hub, log *logrus.Entry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Correlate(log))
	r.Use(middleware.Metrics)

	h := &handlers{q: q, log: log}

	r.Get("/health", h.health)
	r.Get("/api/vehicles/consolidated", h.recentConsolidated)
	r.Get("/api/weather/current", h.latestWeather)
	r.Get("/api/events/recent", h.recentEvents)
	r.Get("/ws", broker.ServeWS(hub, log).ServeHTTP)

	return r
}

type handlers struct {
	q   *query.Store
	log *logrus.Entry
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// health reports 200 when every component in query.Store.Health (the
// database and the Event Bus) is reachable, and 503 otherwise. It does
// not look at recent fatal errors, and no route serves the components'
// error counters.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	hc := h.q.Health(r.Context())
	status := "ok"
	code := http.StatusOK
	for _, up := range hc.Components {
		if !up {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": hc.Components,
		"timestamp":  time.Now().Format(time.RFC3339Nano),
	})
}

func (h *handlers) recentConsolidated(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultRecentLimit)
	since := parseFloatParam(r, "since", 0)

	rows, err := h.q.RecentConsolidated(r.Context(), limit, since)
	if err != nil {
		h.log.WithError(err).Error("recent_consolidated query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	events := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		events = append(events, json.RawMessage(row.EventJSON))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":      events,
		"total_count": len(events),
		"timestamp":   time.Now().Format(time.RFC3339Nano),
	})
}

func (h *handlers) latestWeather(w http.ResponseWriter, r *http.Request) {
	snap, err := h.q.LatestWeather(r.Context())
	if err != nil {
		h.log.WithError(err).Error("latest_weather query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if snap.Empty {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no weather data available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"temperature_c": snap.TemperatureC,
		"humidity_pct":  snap.HumidityPct,
		"source":        snap.Source,
	})
}

func (h *handlers) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultRecentLimit)

	items, err := h.q.RecentBusinessEvents(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("recent_business_events query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	events := make([]json.RawMessage, 0, len(items))
	for _, raw := range items {
		events = append(events, json.RawMessage(raw))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseFloatParam(r *http.Request, name string, def float64) float64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
