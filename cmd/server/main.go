package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KiriEmpathy/psylence/internal/auth/handler"
	"github.com/KiriEmpathy/psylence/internal/auth/service"
	"github.com/KiriEmpathy/psylence/internal/config"
	"github.com/KiriEmpathy/psylence/internal/db"
	"github.com/KiriEmpathy/psylence/internal/security"
	"github.com/KiriEmpathy/psylence/internal/server"
	"github.com/KiriEmpathy/psylence/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := server.NewLogger(cfg.LogLevel)

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	tokens, err := security.NewTokenProvider(
		cfg.JWTAlgorithm,
		[]byte(cfg.JWTSecretKey),
		[]byte(cfg.JWTRefreshSecretKey),
		cfg.AccessTTL(),
		cfg.RefreshTTL(),
	)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	repo := repository.NewPostgresRepository(database)
	hasher := security.NewHasher(cfg.BcryptCost)
	auth := service.NewAuthService(repo, hasher, tokens, cfg.RefreshTTL())
	authHandler := handler.NewHandler(logger, auth, cfg.AccessTTL(), cfg.RefreshTTL(), cfg.TrustProxy)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(logger, cfg, database, authHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("http server stopped")
}
