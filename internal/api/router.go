package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/starford/carenotes/internal/auth"
	"github.com/starford/carenotes/internal/models"
	"github.com/starford/carenotes/internal/noteservice"
	"github.com/starford/carenotes/internal/signer"
	"github.com/starford/carenotes/internal/sse"
)

// Options configures NewRouter.
type Options struct {
	Service *noteservice.Service
	// Auth is nil when authentication is disabled; every request then acts
	// as Anonymous.
	Auth      *auth.Authenticator
	Anonymous models.Principal
	Signer    *signer.Signer
	// MediaTTL is used when a sign request does not name a lifetime.
	MediaTTL time.Duration
	// PublicURL is the externally visible URL of the API root, used as the
	// base of signed media links. When empty it is derived from the request.
	PublicURL string
	// Events, if non-nil, is mounted at GET /events and GET /ws.
	Events     *sse.Broker
	LoginLimit rate.Limit
	LoginBurst int
	Logger     *slog.Logger
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(o Options) chi.Router {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MediaTTL <= 0 {
		o.MediaTTL = 5 * time.Minute
	}
	if o.LoginLimit == 0 {
		o.LoginLimit = rate.Every(time.Second)
	}
	if o.LoginBurst <= 0 {
		o.LoginBurst = 5
	}

	h := NewHandler(o)

	var sessions *auth.Sessions
	if o.Auth != nil {
		sessions = o.Auth.Sessions()
	}

	r := chi.NewRouter()

	// Public routes.
	r.With(NewIPRateLimiter(o.LoginLimit, o.LoginBurst).Middleware).Post("/auth/login", h.Login)
	r.Get("/share/{token}", h.GetShared)
	r.Get("/media/*", h.ServeMedia)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(sessions, o.Anonymous))

		r.Post("/auth/logout", h.Logout)

		// Notes CRUD.
		r.Get("/notes", h.ListNotes)
		r.Post("/notes", h.CreateNote)
		r.Get("/notes/{id}", h.GetNote)
		r.Patch("/notes/{id}", h.UpdateNote)
		r.Delete("/notes/{id}", h.DeleteNote)

		// Attachments.
		r.Get("/attachments", h.ListAttachments)
		r.Post("/notes/{id}/attachments", h.UploadAttachment)
		r.Post("/media/sign", h.SignMedia)

		// Push channels.
		if o.Events != nil {
			r.Get("/events", o.Events.ServeHTTP)
			r.Get("/ws", o.Events.ServeWS)
		}
	})

	return r
}
