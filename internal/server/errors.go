package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"mines/internal/auth"
	"mines/internal/game"
)

// APIError is the body of every failed request.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

var errInvalidBody = errors.New("invalid request body")

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order: ErrStaleRequest wraps ErrInvalidRoundState, and a
// failed refund joins ErrSettlementFailed onto the create error.
var errorMappings = []errorMapping{
	{game.ErrSettlementFailed, fiber.StatusBadGateway, "settlement_failed"},
	{game.ErrStaleRequest, fiber.StatusConflict, "stale_request"},
	{game.ErrInvalidRoundState, fiber.StatusConflict, "invalid_round_state"},
	{game.ErrRoundInProgress, fiber.StatusConflict, "round_in_progress"},
	{game.ErrRoundNotFound, fiber.StatusNotFound, "round_not_found"},
	{game.ErrInsufficientBalance, fiber.StatusPaymentRequired, "insufficient_balance"},
	{game.ErrInvalidBet, fiber.StatusBadRequest, "invalid_bet"},
	{game.ErrInvalidMineCount, fiber.StatusBadRequest, "invalid_mine_count"},
	{game.ErrInvalidGridSize, fiber.StatusBadRequest, "invalid_grid_size"},
	{game.ErrIndexOutOfRange, fiber.StatusBadRequest, "index_out_of_range"},
	{game.ErrMultiplierDomain, fiber.StatusBadRequest, "invalid_mine_count"},
	{errInvalidBody, fiber.StatusBadRequest, "invalid_request"},
	{auth.ErrMissingToken, fiber.StatusUnauthorized, "unauthorized"},
	{auth.ErrInvalidToken, fiber.StatusUnauthorized, "unauthorized"},
}

// toAPIError maps err to a status and body. Unknown errors become a 500
// whose message does not leak the cause.
func toAPIError(err error) (int, APIError) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, APIError{Error: m.err.Error(), Code: m.code, Message: err.Error()}
		}
	}
	return fiber.StatusInternalServerError, APIError{
		Error:   "internal error",
		Code:    "internal_error",
		Message: "internal error",
	}
}

func writeError(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(APIError{Error: msg, Code: code, Message: msg})
}

// errorHandler renders errors returned by handlers.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return writeError(c, fe.Code, "http_error", fe.Message)
		}

		status, body := toAPIError(err)
		if status >= fiber.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		return c.Status(status).JSON(body)
	}
}
