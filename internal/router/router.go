package router

import (
	"net/http"

	"tcsgo-engine/internal/handler"
	"tcsgo-engine/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	EconomyHandler *handler.EconomyHandler
	CatalogHandler *handler.CatalogHandler
	AdminHandler   *handler.AdminHandler
	AuthHandler    *handler.AuthHandler
	LinkHandler    *handler.LinkHandler
	AuthMiddleware func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key", "X-Token", "X-Login-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	// AUTHENTICATED routes
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			// Health check endpoints
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			// Auth endpoints
			if cfg.AuthHandler != nil {
				r.Route("/auth", func(r chi.Router) {
					r.Post("/token", cfg.AuthHandler.GenerateToken)
					r.Post("/revoke", cfg.AuthHandler.RevokeToken)
					r.Post("/refresh", cfg.AuthHandler.RefreshToken)
				})
			}

			// Catalog endpoints
			if cfg.CatalogHandler != nil {
				r.Route("/cases", func(r chi.Router) {
					r.Get("/", cfg.CatalogHandler.ListCases)
					r.Get("/{ref}", cfg.CatalogHandler.GetCase)
				})
			}

			// Economy endpoints
			if cfg.EconomyHandler != nil {
				r.Route("/users/{platform}/{username}", func(r chi.Router) {
					r.Post("/open", cfg.EconomyHandler.OpenCase)
					r.Post("/cases", cfg.EconomyHandler.BuyCases)
					r.Post("/keys", cfg.EconomyHandler.BuyKeys)
					r.Post("/sell", cfg.EconomyHandler.SellItem)
					r.Get("/inventory", cfg.EconomyHandler.GetInventory)
					r.Get("/balance", cfg.EconomyHandler.GetBalance)
				})
			}

			// Account link endpoints
			if cfg.LinkHandler != nil {
				r.Route("/links", func(r chi.Router) {
					r.Post("/", cfg.LinkHandler.CreateLink)
					r.Get("/{platform}/{username}", cfg.LinkHandler.GetLinks)
					r.Delete("/{platform}/{username}", cfg.LinkHandler.RemoveLink)
				})
			}

			// Admin endpoints
			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Get("/health", cfg.AdminHandler.GetHealth)
					r.Post("/login", cfg.AdminHandler.VerifyLogin)
					r.Post("/reconcile/{platform}/{username}", cfg.AdminHandler.TriggerReconcile)
				})
			}
		})
	})

	return r
}
