package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

const defaultMaxBody int64 = 1 << 20

// Limits bounds request handling on one mux.
type Limits struct {
	// MaxBody caps JSON request bodies. Non-positive means 1 MiB.
	MaxBody int64
	// InferTimeout bounds a single /infer request, rounded down to whole
	// seconds. Zero leaves only the manager and engine budgets.
	InferTimeout time.Duration
}

func (l Limits) normalized() Limits {
	if l.MaxBody <= 0 {
		l.MaxBody = defaultMaxBody
	}
	l.InferTimeout = l.InferTimeout.Truncate(time.Second)
	if l.InferTimeout < 0 {
		l.InferTimeout = 0
	}
	return l
}

// WithLimits sets the body size cap and the /infer deadline.
func WithLimits(l Limits) Option {
	return func(s *server) { s.limits = l.normalized() }
}

// CORS lists what cross-origin callers may do. Empty methods and headers
// cover the API's own; empty origins allow any.
type CORS struct {
	Origins []string
	Methods []string
	Headers []string
}

// WithCORS installs the CORS middleware. The slices are copied.
func WithCORS(c CORS) Option {
	c = CORS{
		Origins: append([]string(nil), c.Origins...),
		Methods: append([]string(nil), c.Methods...),
		Headers: append([]string(nil), c.Headers...),
	}
	return func(s *server) { s.cors = &c }
}

func (c CORS) handler() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: orDefault(c.Origins, []string{"*"}),
		AllowedMethods: orDefault(c.Methods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		AllowedHeaders: orDefault(c.Headers, []string{"Content-Type", "X-Log-Level", "X-Request-Id"}),
		MaxAge:         300,
	})
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
