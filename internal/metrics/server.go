package metrics

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the pacing counters to Prometheus scrapers. The
// scrape endpoint can be restricted to an allowlist of scraper
// addresses; the health endpoint stays open for load balancers.
type Server struct {
	httpServer *http.Server
	metrics    *Metrics
	addr       string
	path       string
	logger     *slog.Logger
	allowed    []*net.IPNet
}

// NewServer creates a metrics server without scrape-source filtering.
func NewServer(m *Metrics, addr, path string, logger *slog.Logger) *Server {
	return NewServerWithAllowedIPs(m, addr, path, nil, logger)
}

// NewServerWithAllowedIPs creates a metrics server that only serves
// the scrape endpoint to the given IPs or CIDR ranges. An empty list
// allows every client.
func NewServerWithAllowedIPs(m *Metrics, addr, path string, allowedIPs []string, logger *slog.Logger) *Server {
	if addr == "" {
		addr = ":9090"
	}
	if path == "" {
		path = "/metrics"
	}

	s := &Server{
		metrics: m,
		addr:    addr,
		path:    path,
		logger:  logger,
		allowed: parseAllowlist(allowedIPs, logger),
	}

	if len(s.allowed) > 0 {
		logger.Info("metrics scrape allowlist enabled", "networks", len(s.allowed))
	}
	return s
}

// parseAllowlist turns config entries into networks. Bare IPs become
// single-host networks; invalid entries are logged and skipped rather
// than blocking startup.
func parseAllowlist(entries []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn("invalid CIDR in allowed_ips", "cidr", entry, "error", err)
				continue
			}
			nets = append(nets, ipNet)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			logger.Warn("invalid IP in allowed_ips", "ip", entry)
			continue
		}
		bits := 8 * net.IPv6len
		if ip.To4() != nil {
			bits = 8 * net.IPv4len
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}

	return nets
}

// handler builds the full route set served by the metrics listener.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	scrape := promhttp.HandlerFor(
		s.metrics.Registry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
	mux.Handle(s.path, s.guard(scrape))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// ListenAndServe starts the metrics HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.handler(),
	}

	s.logger.Info("starting metrics server", "addr", s.addr, "path", s.path)
	return s.httpServer.ListenAndServe()
}

// guard rejects scrape requests from clients outside the allowlist.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowed) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if ip == nil {
			s.logger.Warn("could not parse scraper address", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !s.allowedIP(ip) {
			s.logger.Warn("metrics scrape denied", "ip", ip.String())
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedIP(ip net.IP) bool {
	for _, ipNet := range s.allowed {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP resolves the original client address, trusting proxy
// headers before RemoteAddr.
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
