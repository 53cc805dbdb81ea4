package httpapi

import (
	"net/http"
	"strings"
)

// withCORS applies the configured (hot-reloadable) CORS policy ahead of
// every request, reading fresh values from cfg on each call so a reload
// takes effect without restarting the listener.
func withCORS(cfg ConfigStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origins := cfg.CORSOrigins()
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(origins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.CORSMethods(), ", "))
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.CORSHeaders(), ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
