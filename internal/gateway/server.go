package gateway

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/routegrid/gateway/internal/config"
	"github.com/routegrid/gateway/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server owns the listeners and the reload triggers. The dispatch listener
// and the admin listener run side by side; SIGHUP, POST /admin/reload, and
// edits to the config file all re-read the file and swap the table.
type Server struct {
	cfg        *config.Config
	configPath string
	loader     *config.Loader
	gw         *Gateway

	httpServer  *http.Server
	adminServer *http.Server
}

// NewServer creates a server around a fresh gateway.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	gw, err := New(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		loader:     config.NewLoader(),
		gw:         gw,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           gw.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	if cfg.Admin.IsEnabled() {
		s.adminServer = &http.Server{
			Addr:    cfg.Admin.Address,
			Handler: gw.AdminHandler(s.reloadFromFile),
		}
	}

	return s, nil
}

// Gateway returns the server's gateway.
func (s *Server) Gateway() *Gateway {
	return s.gw
}

// reloadFromFile re-reads the config file and publishes the new route set.
// A failed reload is fatal to the reload only; the running table stays.
func (s *Server) reloadFromFile() error {
	if s.configPath == "" {
		return nil
	}
	cfg, err := s.loader.Load(s.configPath)
	if err != nil {
		return err
	}
	return s.gw.Reload(cfg)
}

// Run starts the listeners and blocks until ctx is cancelled or a listener
// fails. SIGHUP triggers a config reload, SIGINT/SIGTERM a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	if s.configPath != "" {
		watcher, err := config.NewWatcher(s.configPath, func(cfg *config.Config) {
			if err := s.gw.Reload(cfg); err != nil {
				logging.Error("reload rejected, keeping previous routes", zap.Error(err))
			}
		})
		if err == nil {
			if err = watcher.Start(); err != nil {
				watcher.Stop()
			}
		}
		if err != nil {
			logging.Warn("config watcher disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logging.Info("gateway listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if s.adminServer != nil {
		group.Go(func() error {
			logging.Info("admin listening", zap.String("address", s.adminServer.Addr))
			if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logging.Info("SIGHUP received, reloading configuration")
				if err := s.reloadFromFile(); err != nil {
					logging.Error("reload rejected, keeping previous routes", zap.Error(err))
				}
			}
		}
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		logging.Info("shutting down")
		if s.adminServer != nil {
			s.adminServer.Shutdown(shutdownCtx)
		}
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
