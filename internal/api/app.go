package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/board-sync/internal/config"
	"github.com/npezzotti/board-sync/internal/database"
	"github.com/npezzotti/board-sync/internal/server"
	"github.com/redis/go-redis/v9"
)

type App struct {
	log            *log.Logger
	store          database.Store
	redis          redis.Cmdable
	srv            *http.Server
	ss             *server.SyncServer
	signingKey     []byte
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, logger *log.Logger, ss *server.SyncServer, store database.Store, rdb redis.Cmdable, cfg *config.Config) *App {
	s := &App{
		log:            logger,
		store:          store,
		redis:          rdb,
		ss:             ss,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	mux.HandleFunc("POST /api/{resource}", s.authMiddleware(s.createDocument))
	mux.HandleFunc("GET /api/{resource}", s.authMiddleware(s.listDocuments))
	mux.HandleFunc("GET /api/{resource}/{id}", s.authMiddleware(s.readDocument))
	mux.HandleFunc("PUT /api/{resource}/{id}", s.authMiddleware(s.updateDocument))
	mux.HandleFunc("DELETE /api/{resource}/{id}", s.authMiddleware(s.deleteDocument))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
