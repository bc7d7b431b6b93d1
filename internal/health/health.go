// Package health serves liveness and readiness probes.
package health

import (
	"net/http"

	"github.com/AmoditYadav/amodit-space/internal/catalog"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns 200 "ready\n" once a catalog is loaded, 503 before.
func Readyz(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if store.Get() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("no catalog\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
	}
}
