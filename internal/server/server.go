package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/wudi/rewriter/internal/config"
	rwerrors "github.com/wudi/rewriter/internal/errors"
	"github.com/wudi/rewriter/internal/logging"
	"github.com/wudi/rewriter/internal/metrics"
	"github.com/wudi/rewriter/internal/middleware"
	"github.com/wudi/rewriter/internal/rewrite"
	"github.com/wudi/rewriter/internal/tracing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// Server hosts the rewrite filter in front of an upstream or a directory.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	filter  *rewrite.Filter
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	handler http.Handler

	// set once shutdown starts; /healthz then reports unavailable
	draining atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithConfigPath sets the file watched when watch is enabled.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// WithLogger overrides the global logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the server. Rule compilation and charset errors surface here
// when rewrite.validate is on.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Global()
	}

	var recorder rewrite.Recorder
	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewCollector()
		recorder = s.metrics
	}

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	s.tracer = tracer

	s.filter, err = rewrite.New(cfg.Rewrite, rewrite.Options{
		Logger:  s.logger.Named("rewrite"),
		Metrics: recorder,
	})
	if err != nil {
		tracer.Close(context.Background())
		return nil, err
	}

	target, err := s.target()
	if err != nil {
		tracer.Close(context.Background())
		return nil, err
	}

	// Recovery is outermost so a panic is answered on the real writer
	chain := middleware.NewBuilder().
		Use(middleware.Recovery()).
		Use(middleware.RequestID()).
		UseIf(cfg.Logging.AccessLog, middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger: s.logger.Named("access"),
		})).
		UseIf(tracer.IsEnabled(), tracer.Middleware()).
		Use(s.filter.Middleware()).
		Handler(target)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			rwerrors.ErrServiceUnavailable.WriteJSON(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	if s.metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, s.metrics.Handler())
	}
	mux.Handle("/", chain)
	s.handler = mux

	return s, nil
}

// target returns the handler whose responses are rewritten.
func (s *Server) target() (http.Handler, error) {
	if s.cfg.StaticDir != "" {
		return http.FileServer(http.Dir(s.cfg.StaticDir)), nil
	}

	upstream, err := url.Parse(s.cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			tracing.InjectHeaders(pr.In.Context(), pr.Out.Header)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Warn("upstream request failed",
				zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
				zap.String("upstream", upstream.Host),
				zap.Error(err),
			)
			rwerrors.ErrBadGateway.WriteJSON(w)
		},
		ErrorLog: zap.NewStdLog(s.logger),
	}, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Filter returns the rewrite filter.
func (s *Server) Filter() *rewrite.Filter {
	return s.filter
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// shutdown_timeout and clears the rule set.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:  s.handler,
		ErrorLog: zap.NewStdLog(s.logger),
	}

	if s.cfg.Watch && s.configPath != "" {
		watcher, err := config.NewWatcher(s.configPath, s.logger.Named("config"))
		if err != nil {
			ln.Close()
			return fmt.Errorf("config watcher: %w", err)
		}
		watcher.OnChange(s.reload)
		if err := watcher.Start(); err != nil {
			watcher.Stop()
			ln.Close()
			return fmt.Errorf("config watcher: %w", err)
		}
		defer watcher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("shutting down")
		s.draining.Store(true)
		err := httpServer.Shutdown(shutdownCtx)
		s.filter.Destroy()
		if terr := s.tracer.Close(shutdownCtx); terr != nil {
			s.logger.Warn("tracer shutdown failed", zap.Error(terr))
		}
		return err
	})

	return g.Wait()
}

// reload applies the rewrite section of a changed config file. Other
// settings need a restart.
func (s *Server) reload(cfg *config.Config) {
	if err := s.filter.Init(cfg.Rewrite); err != nil {
		s.logger.Error("rewrite rules not reloaded, keeping previous rules", zap.Error(err))
	}
}
