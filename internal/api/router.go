package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/maskview/internal/api/middleware"
	"github.com/kiranshivaraju/maskview/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
// A nil RateLimit disables rate limiting.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateView     http.HandlerFunc
	GetView        http.HandlerFunc
	DeleteView     http.HandlerFunc
	NavigateView   http.HandlerFunc
	ToggleItem     http.HandlerFunc
	ClearSelection http.HandlerFunc
	SetOverlay     http.HandlerFunc
	PushToCVAT     http.HandlerFunc
	Download       http.HandlerFunc
	GetHandle      http.HandlerFunc
	GetComposite   http.HandlerFunc

	ListPushes   http.HandlerFunc
	GetJobStatus http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/views", orNotImplemented(deps.CreateView))
		r.Route("/api/v1/views/{viewID}", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.GetView))
			r.Delete("/", orNotImplemented(deps.DeleteView))
			r.Put("/job", orNotImplemented(deps.NavigateView))

			r.Post("/selection/toggle", orNotImplemented(deps.ToggleItem))
			r.Delete("/selection", orNotImplemented(deps.ClearSelection))
			r.Put("/overlay", orNotImplemented(deps.SetOverlay))

			r.Post("/push", orNotImplemented(deps.PushToCVAT))
			r.Get("/download", orNotImplemented(deps.Download))

			r.Get("/handles/{handleID}", orNotImplemented(deps.GetHandle))
			r.Get("/composite", orNotImplemented(deps.GetComposite))
		})

		r.Get("/api/v1/jobs/{jobID}/pushes", orNotImplemented(deps.ListPushes))
		r.Get("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.GetJobStatus))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
