package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/pkg/respond"
)

// NewRouter wires the API routes. authn guards everything under /api.
func NewRouter(tasks *TaskHandler, boards *BoardHandler, authn func(http.Handler) http.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(ZapLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authn)

		r.Post("/boards", boards.Create)
		r.Route("/boards/{id}", func(r chi.Router) {
			r.Get("/", boards.Get)
			r.Post("/tasks", tasks.Create)
			r.Get("/constraints/{taskID}", boards.Constraints)
			r.Post("/reindex", boards.Reindex)
			r.Post("/archive", boards.Archive)
			r.Post("/restore", boards.Restore)
		})
		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", tasks.Get)
			r.Delete("/", tasks.Delete)
			r.Post("/move", tasks.Move)
			r.Get("/audit", tasks.Audit)
		})
	})
	return r
}

// ZapLogger logs one line per request with zap fields.
func ZapLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.Int("status", ww.Status()),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("ip", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Duration("latency", time.Since(start)),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Error("http request", fields...)
				return
			}
			logger.Info("http request", fields...)
		})
	}
}
