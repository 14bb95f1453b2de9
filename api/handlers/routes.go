package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the HTTP routing tree. The admin group is the only part
// behind the auth middleware; webhook and download stay public because
// their callers authenticate by signature and token respectively.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/download", h.Download)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/status", h.GetAuthStatus)
			r.Post("/setup", h.SetupAuth)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/session", h.CreateCheckoutSession)
			r.Get("/verify", h.VerifyCheckout)
		})

		r.Post("/webhooks/payment", h.PaymentWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.auth.Middleware)

			r.Get("/stats", h.GetStats)
			r.Get("/sales", h.ListSales)
			r.Post("/sales/{sessionID}/refulfill", func(w http.ResponseWriter, req *http.Request) {
				h.Refulfill(w, req, chi.URLParam(req, "sessionID"))
			})
			r.Get("/audits", h.ListAudits)

			r.Get("/providers", h.ListProviders)
			r.Put("/providers/{id}", func(w http.ResponseWriter, req *http.Request) {
				h.UpdateProvider(w, req, chi.URLParam(req, "id"))
			})
			r.Post("/providers/{id}/test", func(w http.ResponseWriter, req *http.Request) {
				h.TestProviderCredentials(w, req, chi.URLParam(req, "id"))
			})
		})
	})

	return r
}
