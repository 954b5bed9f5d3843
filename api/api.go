// Package api serves the management HTTP API. Every protected route runs
// the same pipeline: content negotiation, body parsing, authentication,
// trusted-origin (CSRF) enforcement, privilege checks and finally the
// handler. Errors from any stage are rendered by renderError.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/mgmtd/auth"
	"github.com/jmcleod/mgmtd/storage"
	"github.com/jmcleod/mgmtd/userdir"
)

// DefaultAdminPath is the URL prefix of the management API and the path
// scope of its cookies.
const DefaultAdminPath = "/admin"

//go:embed openapi.yaml
var openapiSpec []byte

// UserStore is the account administration surface used by the user and
// MFA handlers.
type UserStore interface {
	Add(ctx context.Context, email, password string, privileges []string) error
	Get(ctx context.Context, email string) (userdir.User, error)
	List(ctx context.Context) ([]userdir.User, error)
	Delete(ctx context.Context, email string) error
	SetPassword(ctx context.Context, email, password string) error
	SetPrivileges(ctx context.Context, email string, privileges []string) error
	SetupTOTP(ctx context.Context, email, label string) (userdir.TOTPSetup, error)
	EnableTOTP(ctx context.Context, email, code string) (string, error)
	DisableMFA(ctx context.Context, email, id string) error
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	auth           *auth.Service
	users          UserStore
	adminPath      string
	development    bool
	trustedProxies []netip.Prefix
	limiter        *loginLimiter
	audit          *auditLogger

	logger        *slog.Logger
	alertFn       AlertFunc
	auditRepo     storage.Repository
	webhookURL    string
	webhookHeader string
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit and error events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAdminPath mounts the API under prefix instead of DefaultAdminPath.
func WithAdminPath(prefix string) Option {
	return func(a *API) {
		a.adminPath = "/" + strings.Trim(prefix, "/")
	}
}

// WithDevelopment includes tracebacks in internal error responses.
func WithDevelopment(dev bool) Option {
	return func(a *API) {
		a.development = dev
	}
}

// WithAlertFunc sets a callback for anomaly alerts such as login failure
// spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditStore persists audit events to repo so they can be listed
// through the API and the CLI.
func WithAuditStore(repo storage.Repository) Option {
	return func(a *API) {
		a.auditRepo = repo
	}
}

// WithAuditWebhook forwards audit events to url. header, if set, is a
// "Name: value" pair added to each request.
func WithAuditWebhook(url, header string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = header
	}
}

// WithTrustedProxies configures the CIDR ranges whose X-Forwarded-For,
// Forwarded and X-Real-IP headers are believed when rate limiting. A bare
// IP address is treated as a single-host prefix.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance.
func New(svc *auth.Service, users UserStore, opts ...Option) *API {
	a := &API{
		auth:      svc,
		users:     users,
		adminPath: DefaultAdminPath,
		limiter:   newLoginLimiter(time.Now),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn, time.Now)
	}
	if a.auditRepo != nil {
		a.audit.store = newAuditStore(a.auditRepo)
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
	}
	return a
}

// Close flushes the audit webhook queue.
func (a *API) Close() {
	if a.audit.webhook != nil {
		a.audit.webhook.close()
	}
}

// AdminPath returns the prefix the API is mounted under.
func (a *API) AdminPath() string {
	return a.adminPath
}

// Handler returns the complete HTTP handler: health check plus the API
// mounted under the admin path.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(a.recoverer)
	r.Use(SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Mount(a.adminPath+"/api", a.Router())
	return r
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	specURL := a.adminPath + "/api/openapi.yaml"

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: specURL,
		Path:    strings.TrimPrefix(a.adminPath, "/") + "/api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: specURL,
		Path:    strings.TrimPrefix(a.adminPath, "/") + "/api/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(a.negotiate, a.parseBody)

		r.With(a.trustedOrigin(TrustedOriginLenient)).Post("/login", a.Login)

		user := a.require(TrustedOriginStandard, auth.PrivilegeUser)
		userStrict := a.require(TrustedOriginStrict, auth.PrivilegeUser)
		r.With(userStrict).Post("/logout", a.Logout)
		r.With(user).Get("/me", a.Me)
		r.With(user).Get("/mfa", a.MFAStatus)
		r.With(userStrict).Post("/mfa/totp/setup", a.SetupTOTP)
		r.With(userStrict).Post("/mfa/totp/enable", a.EnableTOTP)
		r.With(userStrict).Post("/mfa/disable", a.DisableMFA)

		admin := a.require(TrustedOriginStandard, auth.PrivilegeAdmin)
		adminStrict := a.require(TrustedOriginStrict, auth.PrivilegeAdmin)
		r.With(admin).Get("/users", a.ListUsers)
		r.With(adminStrict).Post("/users", a.CreateUser)
		r.Route("/users/{email}", func(r chi.Router) {
			r.With(admin).Get("/", a.GetUser)
			r.With(adminStrict).Delete("/", a.DeleteUser)
			r.With(adminStrict).Post("/password", a.SetUserPassword)
			r.With(adminStrict).Put("/privileges", a.SetUserPrivileges)
			r.With(adminStrict).Post("/mfa/disable", a.DisableUserMFA)
		})
		r.With(admin).Get("/audit", a.ListAuditEvents)
	})

	return r
}

// SweepLoop periodically forgets stale login rate-limit records until ctx
// is done.
func (a *API) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.sweep()
		}
	}
}
