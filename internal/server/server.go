package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mines/internal/auth"
	"mines/internal/config"
	"mines/internal/game"
)

// Wallet is the account ledger the game settles against.
type Wallet interface {
	game.Wallet
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}

// History lists finished rounds.
type History interface {
	ListRounds(ctx context.Context, account string, limit int) ([]*game.Round, error)
}

type HealthChecker interface {
	Health() map[string]string
}

// Deps are the components a FiberServer routes requests to. History and
// the health checkers may be nil.
type Deps struct {
	Engine  *game.Engine
	Hub     *game.Hub
	Wallet  Wallet
	History History
	Signer  *auth.Signer
	Checks  map[string]HealthChecker
	Log     *zap.Logger
}

type FiberServer struct {
	*fiber.App

	cfg     *config.Config
	engine  *game.Engine
	hub     *game.Hub
	wallet  Wallet
	history History
	signer  *auth.Signer
	checks  map[string]HealthChecker
	log     *zap.Logger
}

func New(cfg *config.Config, deps Deps) (*FiberServer, error) {
	if deps.Engine == nil || deps.Hub == nil || deps.Wallet == nil || deps.Signer == nil {
		return nil, errors.New("server: engine, hub, wallet and signer are required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("server")

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "mines",
			AppName:       "mines",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
			ErrorHandler:  errorHandler(log),
		}),

		cfg:     cfg,
		engine:  deps.Engine,
		hub:     deps.Hub,
		wallet:  deps.Wallet,
		history: deps.History,
		signer:  deps.Signer,
		checks:  deps.Checks,
		log:     log,
	}

	server.App.Use(recover.New())
	server.App.Use(requestLogger(log))
	if cfg.RateLimitMax > 0 {
		server.App.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimitMax,
			Expiration: cfg.RateLimitWindow,
			LimitReached: func(c *fiber.Ctx) error {
				return writeError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests")
			},
		}))
	}

	return server, nil
}

// Shutdown drains in-flight requests. The caller owns the stores and the hub.
func (s *FiberServer) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	return s.App.ShutdownWithContext(ctx)
}

func requestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		log.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
		return err
	}
}
