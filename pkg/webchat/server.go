package webchat

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/dialogd/pkg/dispatcher"
)

// Worker is a background task that runs for the lifetime of the server,
// such as an event consumer. It must return when ctx is done.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

type ServerOption func(*Server)

func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

func WithWorker(name string, run func(ctx context.Context) error) ServerOption {
	return func(s *Server) {
		if run != nil {
			s.workers = append(s.workers, Worker{Name: name, Run: run})
		}
	}
}

func WithUpgrader(u websocket.Upgrader) ServerOption {
	return func(s *Server) { s.upgrader = u }
}

// Server drives the HTTP server, the session eviction loop and background
// workers.
type Server struct {
	dispatcher      *dispatcher.Dispatcher
	httpSrv         *http.Server
	upgrader        websocket.Upgrader
	shutdownTimeout time.Duration
	workers         []Worker
	logger          zerolog.Logger
}

func NewServer(addr string, d *dispatcher.Dispatcher, opts ...ServerOption) (*Server, error) {
	if d == nil {
		return nil, errors.New("webchat: dispatcher is nil")
	}
	s := &Server{
		dispatcher:      d,
		shutdownTimeout: 30 * time.Second,
		upgrader:        websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:          log.With().Str("component", "webchat").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           NewMux(d, s.upgrader, s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// NewMux mounts every dialog route on a fresh mux.
func NewMux(svc DialogService, upgrader websocket.Upgrader, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", NewRootHandler(svc))
	mux.HandleFunc("/ask", NewAskHTTPHandler(svc, logger))
	mux.HandleFunc("/ask/ws", NewAskWSHandler(svc, upgrader, logger))
	mux.HandleFunc("/clear_history", NewClearHTTPHandler(svc, logger))
	mux.HandleFunc("/delete_dialog", NewDeleteHTTPHandler(svc, logger))
	mux.HandleFunc("/show_dialog", NewShowHTTPHandler(svc, logger))
	mux.HandleFunc("/show_history", NewHistoryHTTPHandler(svc))
	return mux
}

func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

// Run serves until ctx is cancelled, SIGINT/SIGTERM arrives or a worker
// fails, then shuts the HTTP server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	eg, gctx := errgroup.WithContext(ctx)
	srvCtx, srvCancel := context.WithCancel(gctx)
	defer srvCancel()

	eg.Go(func() error { return s.dispatcher.Store().RunEviction(srvCtx) })

	for _, w := range s.workers {
		w := w
		eg.Go(func() error {
			s.logger.Debug().Str("worker", w.Name).Msg("worker started")
			if err := w.Run(srvCtx); err != nil {
				return errors.Wrapf(err, "worker %s", w.Name)
			}
			return nil
		})
	}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			s.logger.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown error")
			return err
		}
		s.logger.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		s.logger.Info().Str("addr", s.httpSrv.Addr).Str("model", s.dispatcher.Info().Model).Msg("starting dialogd server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}
