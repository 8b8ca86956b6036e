package httpservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/lockforge/lockd/internal/config"
	interfaces "github.com/lockforge/lockd/internal/interface"
	"github.com/lockforge/lockd/internal/interface/http/handlers"
	"github.com/lockforge/lockd/internal/interface/http/middleware"
	"github.com/lockforge/lockd/internal/telemetry"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type service struct {
	config        Config
	appConfig     *config.Config
	server        *http.Server
	appSvcStarted atomic.Bool
	otelShutdown  func(context.Context) error
}

func NewService(svcConfig Config, appConfig *config.Config) (interfaces.Service, error) {
	if err := svcConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %s", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}

	return &service{
		config:    svcConfig,
		appConfig: appConfig,
	}, nil
}

func (s *service) Start() error {
	ctx := context.Background()

	// The otel providers must be in place before the app service creates
	// its metric instruments.
	if s.appConfig.OtelCollectorEndpoint != "" {
		pushInterval := time.Duration(s.appConfig.OtelPushInterval) * time.Second
		otelShutdown, err := telemetry.InitOtelSDK(
			ctx, s.appConfig.OtelCollectorEndpoint, pushInterval,
		)
		if err != nil {
			return err
		}
		s.otelShutdown = otelShutdown
	}

	if err := s.startAppServices(ctx); err != nil {
		return err
	}
	if err := s.newServer(); err != nil {
		return err
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server stopped")
		}
	}()
	log.Infof("started listening at %s", s.config.address())
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.shutdownTimeout())
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to gracefully shutdown http server")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.appSvcStarted.CompareAndSwap(true, false) {
		g.Go(func() error {
			appSvc, _ := s.appConfig.AppService()
			if appSvc != nil {
				appSvc.Stop()
			}
			return nil
		})
	}
	if s.otelShutdown != nil {
		g.Go(func() error {
			if err := s.otelShutdown(gctx); err != nil {
				return fmt.Errorf("failed to shutdown otel: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error(err)
	}
	log.Info("shutdown service")
}

func (s *service) startAppServices(ctx context.Context) error {
	if !s.appSvcStarted.CompareAndSwap(false, true) {
		return nil
	}

	appSvc, err := s.appConfig.AppService()
	if err != nil {
		s.appSvcStarted.Store(false)
		return fmt.Errorf("failed to create app service: %w", err)
	}
	if err := appSvc.Start(ctx); err != nil {
		s.appSvcStarted.Store(false)
		return fmt.Errorf("failed to start app service: %w", err)
	}
	log.Info("started app service")
	return nil
}

func (s *service) newServer() error {
	appSvc, err := s.appConfig.AppService()
	if err != nil {
		return fmt.Errorf("failed to create app service: %w", err)
	}

	mux := http.NewServeMux()
	if s.config.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		log.Info("pprof enabled at /debug/pprof/")
	}

	api := middleware.Chain(
		handlers.NewHandler(appSvc),
		middleware.PanicRecovery,
		middleware.Cors,
		middleware.Logger,
	)
	mux.Handle("/", otelhttp.NewHandler(api, "lockd"))

	s.server = &http.Server{
		Addr:              s.config.address(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}
