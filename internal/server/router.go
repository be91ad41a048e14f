// internal/server/router.go
//
// 本檔負責 HTTP 路由註冊與中介層；handler.go 定義如何處理請求。
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Router 建立並回傳整個 HTTP 處理鏈。
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// 同一組端點同時掛在根路徑與 /api/v1 下。
	r.Group(s.routes)
	r.Route("/api/v1", s.routes)

	return r
}

func (s *Server) routes(r chi.Router) {
	r.Get("/health", s.health)

	r.Post("/accounts", s.openAccount)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.createUser)
		r.Get("/", s.listUsers)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getUser)
			r.Patch("/", s.setActive)

			r.Post("/checking", s.createChecking)
			r.Get("/checking", s.getChecking)
			r.Post("/checking/deposit", s.deposit)
			r.Post("/checking/withdraw", s.withdraw)
		})
	})

	r.Post("/transfers", s.transfer)
	r.Post("/checkpoint", s.checkpoint)
}

// requestLogger 以 zap 記錄每個請求；不記錄 body。
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
		)
	})
}
