package ramses

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPAPI builds the debug/introspection HTTP surface named in
// SPEC_FULL.md's DOMAIN STACK: a read-only window onto the entity graph
// for operators. It never mutates the graph — the Router remains the
// sole writer per §4.5. Grounded on the device-management example's
// chi-based router.
func NewHTTPAPI(gwy *Gateway, engine *Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/devices", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, deviceSummaries(gwy.Devices()))
	})

	r.Get("/systems", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, systemSummaries(gwy, gwy.Systems()))
	})

	r.Get("/systems/{id}/schedule", func(w http.ResponseWriter, req *http.Request) {
		// Schedule retrieval requires an active QoS round trip against a
		// live gateway, which this endpoint does not start (no on-demand
		// fetch triggered from HTTP): it always answers 501 Not
		// Implemented and reports nothing about cached schedules.
		http.Error(w, "schedule retrieval requires an active gateway session", http.StatusNotImplemented)
	})

	r.Get("/qos", func(w http.ResponseWriter, req *http.Request) {
		h, inFlight := engine.InFlight()
		writeJSON(w, map[string]any{
			"in_flight": inFlight,
			"header":    h.String(),
			"queued":    engine.QueueDepth(),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func deviceSummaries(devices []*Device) []map[string]any {
	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, map[string]any{
			"address":      d.Addr.String(),
			"friendly":     d.FriendlyName,
			"ignore":       d.Ignore,
			"temperature":  d.Temperature,
			"battery_low":  d.BatteryLow,
			"window_open":  d.WindowOpen,
		})
	}
	return out
}

func systemSummaries(gwy *Gateway, systems []*System) []map[string]any {
	out := make([]map[string]any, 0, len(systems))
	for _, s := range systems {
		ctl := gwy.Device(s.Controller)
		var ctlID string
		if ctl != nil {
			ctlID = ctl.Addr.String()
		}
		out = append(out, map[string]any{
			"controller": ctlID,
			"mode":       s.Mode,
			"max_zones":  s.MaxZones,
		})
	}
	return out
}
