package observability

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/platinummonkey/lumen/pkg/contextkeys"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// Call it in a defer statement; the panic is not re-raised.
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "object cleanup")
//	    ...
//	}()
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// PanicRecoveryMiddleware turns a handler panic into a 500 JSON response
func PanicRecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logPanic(logger.WithField("request_id", contextkeys.GetRequestID(r.Context())), r.Method+" "+r.URL.Path, rec)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func logPanic(logger *Logger, where string, r interface{}) {
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("PANIC recovered")
}
