// Package pprofserver serves the debug surface: Prometheus metrics and pprof.
// Loopback callers pass freely; anyone else needs basic auth.
package pprofserver

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const realm = `Basic realm="parcelflow-debug"`

// Config stores debug server credentials.
type Config struct {
	User string
	Pass string
}

func (c Config) configured() bool { return c.User != "" && c.Pass != "" }

// Handler returns the debug router. A nil gatherer serves the default registry.
func Handler(cfg Config, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(guard{cfg: cfg}.wrap)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	// /debug/pprof/* and /debug/vars
	r.Mount("/debug", middleware.Profiler())
	return r
}

type guard struct {
	cfg Config
}

func (g guard) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.allowed(r) {
			w.Header().Set("WWW-Authenticate", realm)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g guard) allowed(r *http.Request) bool {
	if isLoopback(r.RemoteAddr) {
		return true
	}
	if !g.cfg.configured() {
		return false
	}
	u, p, ok := r.BasicAuth()
	return ok && secureEq(u, g.cfg.User) && secureEq(p, g.cfg.Pass)
}

// secureEq compares in constant time for equal lengths.
func secureEq(got, want string) bool {
	return len(got) == len(want) && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(strings.TrimSpace(host))
	return ip != nil && ip.IsLoopback()
}
