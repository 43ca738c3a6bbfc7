package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"blastbot/internal/logx"
)

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server runs the admin API on its own listener.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(cfg ServerConfig, h *Handler, log logx.Logger) *Server {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	readTO := cfg.ReadTimeout
	if readTO <= 0 {
		readTO = 10 * time.Second
	}
	writeTO := cfg.WriteTimeout
	if writeTO <= 0 {
		writeTO = 30 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      h.Router(),
			ReadTimeout:  readTO,
			WriteTimeout: writeTO,
		},
		log: log,
	}
}

func (s *Server) Start() {
	go func() {
		s.log.Info("admin api listening", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin api server exited", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
