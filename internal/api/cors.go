package api

import "net/http"

const (
	serviceMethods = "GET, POST, OPTIONS"
	controlMethods = "GET, POST, DELETE, OPTIONS"
)

// cors allows any origin for the given methods and answers preflight
// requests directly.
func cors(methods string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Submitter-Tag")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
