package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/indigoroots/authcore"
	"github.com/indigoroots/authcore/middleware"
	"github.com/indigoroots/authcore/permission"
)

// RouterOptions assembles the full HTTP surface.
type RouterOptions struct {
	Handler *Handler
	// Policy defaults to permission.DefaultRoutePolicy.
	Policy *permission.RoutePolicy
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  zerolog.Logger
}

// NewRouter mounts the auth API under /api/auth and the role-gated pages
// behind the route policy. /healthz and /metrics skip the guard.
func NewRouter(opts RouterOptions) http.Handler {
	h := opts.Handler
	policy := opts.Policy
	if policy == nil {
		policy = permission.DefaultRoutePolicy()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(withClientIP)
	r.Use(requestLogger(opts.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ok(w, response{Message: "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(h.engine, policy, h.extract))

		r.Mount("/api/auth", h.Routes())
		for _, page := range []string{"/profile", "/editor", "/admin"} {
			r.Get(page, h.page)
			r.Get(page+"/*", h.page)
		}
	})
	return r
}

// page answers a role-gated page with the caller's session. The guard has
// already refused callers below the route's role.
func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	info := authcore.SessionFromContext(r.Context())
	if info == nil {
		fail(w, http.StatusUnauthorized, "No active session")
		return
	}
	ok(w, response{Session: newSessionBody(info)})
}

func withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(authcore.WithClientIP(r.Context(), ip)))
	})
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
