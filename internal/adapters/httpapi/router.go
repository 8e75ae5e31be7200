package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
)

type RouterOptions struct {
	// AuthMiddleware, when set, runs before every route.
	AuthMiddleware func(http.Handler) http.Handler
	// CORSOrigins lists allowed browser origins; empty disables CORS headers.
	CORSOrigins []string
}

// NewRouter constructs the viewer API router.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}
	if opts.AuthMiddleware != nil {
		r.Use(opts.AuthMiddleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/divisions", s.ListDivisions)
	r.Get("/divisions/{divisionId}", s.GetDivision)
	r.Get("/divisions/{divisionId}/messages", s.ListDivisionMessages)
	r.Get("/inbox", s.GetInbox)
	r.Get("/events", s.ListEvents)
	r.Get("/events/{eventId}", s.GetEvent)
	r.Patch("/events/{eventId}", s.UpdateEvent)
	r.Put("/events/{eventId}/response", s.RespondToEvent)
	r.Get("/users/{userId}", s.GetUser)
	r.Get("/users/{userId}/avatar", s.GetUserAvatar)
	r.Post("/messages", s.SendMessage)
	r.Patch("/messages/{messageId}", s.UpdateMessage)
	r.Post("/sync", s.Sync)
	r.Get("/ws", s.Notifications)
	return r
}

// requestLogger puts a request-scoped logger into the context and logs
// each completed request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.From(r.Context()).With(slog.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(logging.With(r.Context(), log)))
		log.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}
