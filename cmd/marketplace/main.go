// Package main запускает HTTP-сервер маркетплейса услуг.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/config"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/event"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/handler"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/middleware"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/notify"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/service"
)

const expiryCheckInterval = time.Hour

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	bus := event.NewBus(logger)

	var sink notify.Sink
	if cfg.NotifyAddress != "" {
		sink = notify.NewHTTPSink(cfg.NotifyAddress)
	} else {
		sink = notify.NewLogSink(logger)
	}
	notify.NewDispatcher(sink, logger).Register(bus)

	svc := service.NewServices(repo, bus, logger)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая проверка истекающих подписок
	g.Go(func() error {
		svc.Subscription.StartExpiryNotifier(ctx, expiryCheckInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting marketplace server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
