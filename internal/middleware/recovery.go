package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/wudi/rewriter/internal/errors"
	"github.com/wudi/rewriter/internal/logging"
	"go.uber.org/zap"
)

// RecoveryConfig configures the recovery middleware
type RecoveryConfig struct {
	// PrintStack captures the stack trace when a panic occurs
	PrintStack bool
	// LogFunc is called when a panic occurs
	LogFunc func(err interface{}, stack []byte)
}

// DefaultRecoveryConfig provides default recovery settings
var DefaultRecoveryConfig = RecoveryConfig{
	PrintStack: true,
	LogFunc:    defaultLogFunc,
}

func defaultLogFunc(err interface{}, stack []byte) {
	logging.Error("Panic recovered",
		zap.Any("error", err),
		zap.ByteString("stack", stack),
	)
}

// Recovery creates a panic recovery middleware
func Recovery() Middleware {
	return RecoveryWithConfig(DefaultRecoveryConfig)
}

// RecoveryWithConfig creates a recovery middleware with custom config.
// It must sit outside any buffering middleware so that the error response
// goes to the real writer. http.ErrAbortHandler is re-raised for net/http.
func RecoveryWithConfig(cfg RecoveryConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				var stack []byte
				if cfg.PrintStack {
					stack = debug.Stack()
				}
				if cfg.LogFunc != nil {
					cfg.LogFunc(err, stack)
				}

				httpErr := errors.ErrInternalServer
				if reqID := RequestIDFromContext(r.Context()); reqID != "" {
					httpErr = httpErr.WithRequestID(reqID)
				} else if reqID := w.Header().Get("X-Request-ID"); reqID != "" {
					httpErr = httpErr.WithRequestID(reqID)
				}
				// Details stay in the log; the client gets the generic body
				httpErr.WriteJSON(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
