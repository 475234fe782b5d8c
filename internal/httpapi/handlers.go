// Package httpapi exposes the finalisation workflow over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/finalise"
	"practicedesk.io/internal/obs"
)

// Pinger is satisfied by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks backing services. Nil fields are skipped.
type ReadyProbe struct {
	Store  Pinger
	Ledger Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store != nil {
		if err := rp.Store.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	if rp.Ledger != nil {
		if err := rp.Ledger.Ping(ctx); err != nil {
			return fmt.Errorf("audit ledger: %w", err)
		}
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	machine    *finalise.Machine
	resolver   auth.Resolver
	readyProbe ReadyProbe
	version    string

	rateBurst      int
	ratePerSec     float64
	maxBodyBytes   int64
	trustedProxies []netip.Prefix
}

// Option tunes an API.
type Option func(*API)

func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec = perSecond
			a.rateBurst = burst
		}
	}
}

// WithTrustedProxies honours X-Forwarded-For from peers inside prefixes.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(machine *finalise.Machine, resolver auth.Resolver, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		machine:      machine,
		resolver:     resolver,
		readyProbe:   rp,
		version:      version,
		rateBurst:    100,
		ratePerSec:   50,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	for _, kind := range []string{"reports", "deliverables"} {
		a.mux.HandleFunc("/v1/"+kind, a.handleCollection)
		a.mux.HandleFunc("/v1/"+kind+"/", a.handleResource)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a
}

// Handler wraps the mux with the middleware chain, outermost first.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.trustedProxies)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "practicedesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
