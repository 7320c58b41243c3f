// Package admin serves the operator HTTP surface of a worldsync server.
//
// Routes:
//
//	GET    /healthz            liveness and current tick
//	GET    /metrics            Prometheus scrape
//	GET    /connections        per-connection diagnostics
//	DELETE /connections/{peer} disconnect a peer
//	GET    /bans               list bans
//	POST   /bans               ban an address and drop its connections
//	DELETE /bans/{addr}        lift a ban
//	GET    /replay             recorder counters
//
// The router is meant for a loopback or otherwise private listener; it
// carries no authentication.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/worldsync/internal/banlist"
	"github.com/vango-dev/worldsync/internal/replay"
	"github.com/vango-dev/worldsync/internal/tracing"
	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/netsync"
)

// Sessions is the server view the admin routes need. *netsync.Server
// implements it.
type Sessions interface {
	CurrentTick() uint32
	Connections() []netsync.ConnectionInfo
	Disconnect(peer conn.PeerID, reason conn.Reason) error
}

// Bans manages the ban list. *banlist.List implements it.
type Bans interface {
	Ban(ctx context.Context, addr, reason string) (banlist.Ban, error)
	Unban(ctx context.Context, addr string) (bool, error)
	Bans() []banlist.Ban
}

type options struct {
	gatherer prometheus.Gatherer
	bans     Bans
	replay   func() replay.Stats
	tracing  *tracing.Tracing
	logger   *slog.Logger
}

// Option configures the router.
type Option func(*options)

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) { o.gatherer = g }
}

// WithBans enables the /bans routes.
func WithBans(b Bans) Option {
	return func(o *options) { o.bans = b }
}

// WithReplay enables /replay.
func WithReplay(stats func() replay.Stats) Option {
	return func(o *options) { o.replay = stats }
}

// WithTracing wraps every route in a server span.
func WithTracing(t *tracing.Tracing) Option {
	return func(o *options) { o.tracing = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type handler struct {
	sessions Sessions
	opts     options
	logger   *slog.Logger
}

// NewRouter returns the admin router for sessions.
func NewRouter(sessions Sessions, opts ...Option) http.Handler {
	o := options{
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	h := &handler{sessions: sessions, opts: o, logger: o.logger.With("component", "admin")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if o.tracing != nil {
		r.Use(o.tracing.Middleware)
	}

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	r.Route("/connections", func(r chi.Router) {
		r.Get("/", h.connections)
		r.Delete("/{peer}", h.kick)
	})
	if o.bans != nil {
		r.Route("/bans", func(r chi.Router) {
			r.Get("/", h.listBans)
			r.Post("/", h.ban)
			r.Delete("/{addr}", h.unban)
		})
	}
	if o.replay != nil {
		r.Get("/replay", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, o.replay())
		})
	}
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tick":   h.sessions.CurrentTick(),
		"peers":  len(h.sessions.Connections()),
	})
}

func (h *handler) connections(w http.ResponseWriter, _ *http.Request) {
	infos := h.sessions.Connections()
	if infos == nil {
		infos = []netsync.ConnectionInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *handler) kick(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "peer"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "peer must be a number")
		return
	}
	if err := h.sessions.Disconnect(conn.PeerID(id), conn.ReasonLocal); err != nil {
		if errors.Is(err, netsync.ErrUnknownPeer) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("peer kicked", "peer", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listBans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.bans.Bans())
}

type banRequest struct {
	Addr   string `json:"addr"`
	Reason string `json:"reason"`
}

type banResponse struct {
	banlist.Ban
	Disconnected []conn.PeerID `json:"disconnected"`
}

func (h *handler) ban(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b, err := h.opts.bans.Ban(r.Context(), req.Addr, req.Reason)
	if err != nil {
		if errors.Is(err, banlist.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := banResponse{Ban: b, Disconnected: []conn.PeerID{}}
	for _, info := range h.sessions.Connections() {
		if hostIP(info.Addr) != b.Addr {
			continue
		}
		if err := h.sessions.Disconnect(info.Peer, conn.ReasonRejected); err == nil {
			resp.Disconnected = append(resp.Disconnected, info.Peer)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handler) unban(w http.ResponseWriter, r *http.Request) {
	removed, err := h.opts.bans.Unban(r.Context(), chi.URLParam(r, "addr"))
	switch {
	case errors.Is(err, banlist.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case !removed:
		writeError(w, http.StatusNotFound, "not banned")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// hostIP returns the canonical IP of a host:port address, or "".
func hostIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	return ip.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
