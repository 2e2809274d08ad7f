package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

type Option func(*Server) error

func Address(address string) Option {
	return func(s *Server) error {
		s.h1.Addr = address
		return nil
	}
}

func Handle(handler http.Handler) Option {
	return func(s *Server) error {
		s.handler = handler
		return nil
	}
}

func RequestLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.requestLogger = logger
		return nil
	}
}

func Logger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// Server is a plain HTTP/1.1 server for the local stats and metrics API.
// The API is meant for operators on the same machine or LAN segment, so
// there is no TLS here.
type Server struct {
	logger        *slog.Logger
	requestLogger *slog.Logger

	handler http.Handler

	h1 *http.Server
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:        slog.Default(),
		requestLogger: nil,
		handler:       http.DefaultServeMux,
		h1:            &http.Server{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.requestLogger != nil {
		s.handler = s.logRequest(s.handler)
	}
	s.h1.Handler = s.handler
	return s, nil
}

// ListenAndServe serves until ctx is done, then shuts the server down with
// a one second grace period. A clean shutdown returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info("serving HTTP", "address", s.h1.Addr)
		return s.h1.ListenAndServe()
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return s.h1.Shutdown(shutdownCtx)
	})
	err := eg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Middleware

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestLogger.Info("got request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
