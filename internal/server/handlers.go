package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mines/internal/game"
)

// event is pushed to an account's websockets.
type event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	eventRound = "round"
	eventError = "error"
	eventPong  = "pong"
)

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"status": "ok",
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.ClientCount(),
		},
	}
	for name, check := range s.checks {
		if check != nil {
			health[name] = check.Health()
		}
	}
	return c.JSON(health)
}

func (s *FiberServer) balanceHandler(c *fiber.Ctx) error {
	account := accountFrom(c)
	balance, err := s.wallet.Balance(c.UserContext(), account)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"account": account,
		"balance": balance,
	})
}

func (s *FiberServer) startHandler(c *fiber.Ctx) error {
	var req game.StartRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}
	req.Account = accountFrom(c)

	view, err := s.engine.Start(c.UserContext(), req)
	if err != nil {
		return err
	}
	s.hub.Publish(req.Account, event{Type: eventRound, Data: view})
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (s *FiberServer) revealHandler(c *fiber.Ctx) error {
	var req game.RevealRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}
	req.Account = accountFrom(c)

	view, err := s.engine.Reveal(c.UserContext(), req)
	if err != nil {
		return err
	}
	s.hub.Publish(req.Account, event{Type: eventRound, Data: view})
	return c.JSON(view)
}

func (s *FiberServer) cashOutHandler(c *fiber.Ctx) error {
	var req game.CashOutRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}
	req.Account = accountFrom(c)

	view, err := s.engine.CashOut(c.UserContext(), req)
	if err != nil {
		return err
	}
	s.hub.Publish(req.Account, event{Type: eventRound, Data: view})
	return c.JSON(view)
}

func (s *FiberServer) activeHandler(c *fiber.Ctx) error {
	view, err := s.engine.Active(c.UserContext(), accountFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	if s.history == nil {
		return writeError(c, fiber.StatusServiceUnavailable, "history_unavailable", "round history is not configured")
	}

	rounds, err := s.history.ListRounds(c.UserContext(), accountFrom(c), c.QueryInt("limit"))
	if err != nil {
		return err
	}
	views := make([]game.View, 0, len(rounds))
	for _, r := range rounds {
		views = append(views, r.View())
	}
	return c.JSON(fiber.Map{"rounds": views})
}

func (s *FiberServer) multipliersHandler(c *fiber.Ctx) error {
	mines := c.QueryInt("mine_count")
	grid := c.QueryInt("grid_size", s.engine.Rules().GridSize)

	ladder, err := game.Ladder(mines, grid)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"mine_count":  mines,
		"grid_size":   grid,
		"multipliers": ladder,
	})
}

type verifyRequest struct {
	ServerSeed string `json:"server_seed"`
	ClientSeed string `json:"client_seed"`
	MineCount  int    `json:"mine_count"`
	GridSize   int    `json:"grid_size,omitempty"`
}

func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil || req.ServerSeed == "" {
		return errInvalidBody
	}
	if req.GridSize == 0 {
		req.GridSize = s.engine.Rules().GridSize
	}

	v, err := game.Verify(req.ServerSeed, req.ClientSeed, req.MineCount, req.GridSize)
	if err != nil {
		return err
	}
	return c.JSON(v)
}

type creditRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *FiberServer) creditHandler(c *fiber.Ctx) error {
	account := c.Params("account")
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}
	if !req.Amount.IsPositive() || !req.Amount.Shift(2).IsInteger() {
		return writeError(c, fiber.StatusBadRequest, "invalid_amount", "amount must be a positive number of whole cents")
	}

	ref := fmt.Sprintf("admin:%s", uuid.NewString())
	if err := s.wallet.Credit(c.UserContext(), account, req.Amount, ref); err != nil {
		return err
	}
	s.log.Info("account credited",
		zap.String("account", account),
		zap.Stringer("amount", req.Amount),
		zap.String("by", accountFrom(c)))

	balance, err := s.wallet.Balance(c.UserContext(), account)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"account": account,
		"balance": balance,
	})
}

