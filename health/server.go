package health

import (
	"net/http"
)

// Register mounts liveness and readiness endpoints. state, when set, reports
// the engine lifecycle state on /readyz.
func Register(mux *http.ServeMux, state func() string) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		body := "ready"
		if state != nil {
			body += " state=" + state()
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}
