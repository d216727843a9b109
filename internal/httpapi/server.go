package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/services/checks"
	"github.com/upmon/upmon/internal/services/ping"
)

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Server struct {
	cfg    ServerConfig
	log    *zap.Logger
	pings  *ping.Usecase
	admin  *checks.Usecase
	router *chi.Mux
	http   *http.Server
}

func NewServer(cfg ServerConfig, log *zap.Logger, pings *ping.Usecase, admin *checks.Usecase) *Server {
	s := &Server{cfg: cfg, log: log, pings: pings, admin: admin}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Heartbeat ingest. GET is allowed so a plain curl in a cron job works.
	r.Get("/ping/{key}", s.handlePing)
	r.Post("/ping/{key}", s.handlePing)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checks", s.handleCreateCheck)
		r.Get("/checks/{id}", s.handleGetCheck)
		r.Delete("/checks/{id}", s.handleDeleteCheck)
		r.Post("/checks/{id}/pause", s.handlePauseCheck)
		r.Post("/checks/{id}/resume", s.handleResumeCheck)
		r.Post("/checks/{id}/rotate-key", s.handleRotateKey)
		r.Post("/checks/{id}/notifications", s.handleAddNotification)
		r.Get("/checks/{id}/notifications", s.handleListNotifications)
	})

	return r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.log.Info("starting http server", zap.String("addr", s.cfg.Addr))
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
