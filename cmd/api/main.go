package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mines/internal/auth"
	"mines/internal/cache"
	"mines/internal/config"
	"mines/internal/database"
	"mines/internal/game"
	"mines/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mines: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	redisService, err := cache.New(cfg.Redis, log)
	if err != nil {
		return err
	}
	defer redisService.Close()

	checks := map[string]server.HealthChecker{"cache": redisService}

	// Round history is optional; the game runs without Postgres.
	var (
		history  server.History
		recorder game.Recorder
	)
	db, err := database.New(cfg.Database, log)
	if err != nil {
		log.Warn("database unavailable, round history disabled", zap.Error(err))
	} else {
		defer db.Close()
		if err := database.RunMigrations(db.DB(), ""); err != nil {
			return err
		}
		history, recorder = db, db
		checks["database"] = db
	}

	rules := game.Rules{
		GridSize:  cfg.Mines.GridSize,
		MaxBet:    cfg.Mines.MaxBet,
		HouseEdge: cfg.Mines.HouseEdge,
	}
	wallet := cache.NewWallet(redisService.GetClient())
	opts := []game.Option{game.WithLogger(log)}
	if recorder != nil {
		opts = append(opts, game.WithRecorder(recorder))
	}
	engine, err := game.NewEngine(wallet, cache.NewRoundStore(redisService.GetClient()), rules, opts...)
	if err != nil {
		return err
	}

	signer, err := auth.NewSigner(cfg.JWTSecret)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := game.NewHub(log)
	go hub.Run(ctx)

	srv, err := server.New(cfg, server.Deps{
		Engine:  engine,
		Hub:     hub,
		Wallet:  wallet,
		History: history,
		Signer:  signer,
		Checks:  checks,
		Log:     log,
	})
	if err != nil {
		return err
	}
	srv.RegisterFiberRoutes()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Info("listening",
			zap.String("addr", addr),
			zap.Int("grid_size", rules.GridSize),
			zap.Stringer("house_edge", rules.HouseEdge))
		errCh <- srv.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}
