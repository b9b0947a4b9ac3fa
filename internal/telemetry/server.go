package telemetry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter serves the telemetry endpoints:
//
//	GET /status  latest per-tick counters
//	GET /result  end-of-run record (204 while running)
//	GET /ws      websocket counter stream
func NewRouter(rec *Recorder, hub *Hub) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		c, ok := rec.Latest()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, c)
	})

	r.Get("/result", func(w http.ResponseWriter, r *http.Request) {
		res := rec.Result()
		if res == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, res)
	})

	r.Handle("/ws", hub)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
	}
}
