package app

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"membership-manager/internal/handlers"
	"membership-manager/internal/server"
)

// Handler builds the router with every route wired to the app's services
func (app *App) Handler() http.Handler {
	h := handlers.New(handlers.Options{
		Members:    app.Members,
		Candidates: app.Candidates,
		Queue:      app.Queue,
		PayPal:     app.PayPal,
		Notifier:   app.Mailer,
		Authorized: app.Auth,
		Health: []handlers.HealthCheck{
			{Name: "redis", Check: app.Redis.Health},
			{Name: "settings", Check: app.Settings.Health},
		},
		QueueStats: app.Queue,
		Demo:       app.Config.Demo,
		Logger:     app.Logger,
	})

	router := mux.NewRouter()
	SetupRoutes(router, h, RouteOptions{
		Auth:           app.Auth,
		Limiter:        app.Limiter,
		Metrics:        app.Metrics,
		EmbedOrigins:   app.Config.AllowedEmbedOrigins,
		SkipEmbedCheck: app.Config.Debug,
	})
	return router
}

// RunServer creates the HTTP server for the app's routes
func (app *App) RunServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile)
}

// Shutdown stops background work. The server is shut down by the caller.
func (app *App) Shutdown(ctx context.Context) error {
	app.StopWorkers(ctx)
	return ctx.Err()
}
