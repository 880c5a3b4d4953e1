package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"membership-manager/internal/auth"
	"membership-manager/internal/common/ratelimit"
	"membership-manager/internal/handlers"
	"membership-manager/internal/metrics"
	"membership-manager/internal/middleware"
)

// RouteOptions carries what SetupRoutes needs besides the handlers
type RouteOptions struct {
	Auth           *auth.Auth
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Registry
	EmbedOrigins   []string
	SkipEmbedCheck bool
}

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, opts RouteOptions) {
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(opts.Metrics))

	// Operational and sign-in routes (no auth required)
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.Handle("/metrics", opts.Metrics.Handler()).Methods("GET")
	router.HandleFunc("/tokensignin", opts.Auth.TokenSignIn).Methods("POST")
	router.HandleFunc("/logout", opts.Auth.Logout).Methods("GET")
	router.HandleFunc("/csrf", opts.Auth.CSRFToken).Methods("GET")

	// PayPal posts notifications from its own servers, so neither the
	// embed check nor the self-serve limiter applies
	router.HandleFunc("/self-serve/paypal-ipn", h.PayPalIPN).Methods("POST")

	// Embedded self-serve forms
	selfServe := router.PathPrefix("/self-serve").Subrouter()
	if opts.Limiter != nil {
		selfServe.Use(ratelimit.HTTPMiddleware(opts.Limiter, ratelimit.IPKey))
	}
	selfServe.Use(middleware.EmbedCheck(opts.EmbedOrigins, opts.SkipEmbedCheck))
	selfServe.HandleFunc("/join", h.JoinForm).Methods("GET")
	selfServe.HandleFunc("/join", h.Join).Methods("POST")
	selfServe.HandleFunc("/volunteer", h.VolunteerForm).Methods("GET")
	selfServe.HandleFunc("/volunteer", h.Volunteer).Methods("POST")
	selfServe.HandleFunc("/combo", h.ComboForm).Methods("GET")

	// Admin routes - require a session from an authorized user
	admin := router.NewRoute().Subrouter()
	admin.Use(opts.Auth.RequireAuth)
	admin.Use(auth.RequireCSRF)
	admin.HandleFunc("/", h.Index).Methods("GET")
	admin.HandleFunc("/new-member", h.MemberForm).Methods("GET")
	admin.HandleFunc("/new-member", h.NewMember).Methods("POST")
	admin.HandleFunc("/renew-member", h.MemberForm).Methods("GET")
	admin.HandleFunc("/renew-member", h.RenewMember).Methods("POST")
	admin.HandleFunc("/authorize-user", h.AuthorizeUserForm).Methods("GET")
	admin.HandleFunc("/authorize-user", h.AuthorizeUser).Methods("POST")
	admin.HandleFunc("/all-members-json", h.AllMembers).Methods("GET")
	admin.HandleFunc("/map-members", h.MapMembers).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})
}
