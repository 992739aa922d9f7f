package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/you/course-marketplace/pkg/metrics"
	"github.com/you/course-marketplace/pkg/mq"
	"github.com/you/course-marketplace/pkg/obs"
	"github.com/you/course-marketplace/services/marketplace/internal/handlers"
	"github.com/you/course-marketplace/services/marketplace/internal/middlewares"
	"github.com/you/course-marketplace/services/marketplace/internal/payment"
	"github.com/you/course-marketplace/services/marketplace/internal/service"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			if migrate {
				if err := a.store.Migrate(); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}
			return a.serve()
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "run migrations before serving")
	return cmd
}

func newEnrollment(a *app, gw payment.Gateway, pub service.Publisher) *service.EnrollmentSvc {
	return service.NewEnrollmentSvc(a.store, gw, pub, service.EnrollmentConfig{
		Currency:         a.cfg.Currency,
		CurrencyDecimals: a.cfg.CurrencyDecimals,
		FrontendURL:      a.cfg.FrontendURL,
	}, a.log)
}

func (a *app) serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, "marketplace", a.cfg.OTLPEndpoint, a.cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metrics.Register()

	gw, err := payment.New(a.cfg)
	if err != nil {
		return err
	}

	// Enrollment events are optional.
	var pub service.Publisher
	if a.cfg.RabbitURL != "" {
		p, err := mq.NewPublisher(a.cfg.RabbitURL, a.cfg.EnrollmentExchange)
		if err != nil {
			a.log.Warn("rabbitmq unavailable, enrollment events disabled", slog.Any("error", err))
		} else {
			defer p.Close()
			pub = p
		}
	}

	tokens := a.tokens()
	enroll := newEnrollment(a, gw, pub)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.Deps{
		Guard:           middlewares.NewGuard(tokens, a.store.Accounts),
		Auth:            service.NewAuthSvc(a.store.Accounts, tokens),
		Catalog:         service.NewCatalogSvc(a.store, a.cfg.CurrencyDecimals, a.log),
		Enrollment:      enroll,
		SignatureHeader: gw.SignatureHeader(),
		FrontendURL:     a.cfg.FrontendURL,
		Log:             a.log,
	})

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http listening", slog.String("addr", a.cfg.HTTPAddr), slog.String("payment_provider", gw.Name()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
