package game

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const MaxGridSize = 100

var ErrInvalidGridSize = errors.New("invalid grid size")

// Rules are the table limits a round is started under.
type Rules struct {
	GridSize  int
	MaxBet    decimal.Decimal // zero means no upper limit
	HouseEdge decimal.Decimal // fraction of the fair payout kept by the house
}

func DefaultRules() Rules {
	return Rules{GridSize: DefaultGridSize}
}

func (r Rules) Validate() error {
	if err := validateGridSize(r.GridSize); err != nil {
		return err
	}
	if r.MaxBet.IsNegative() {
		return fmt.Errorf("%w: max bet %s is negative", ErrInvalidBet, r.MaxBet)
	}
	if r.HouseEdge.IsNegative() || r.HouseEdge.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("house edge %s not in [0, 1)", r.HouseEdge)
	}
	return nil
}

func validateGridSize(n int) error {
	if n < 2 || n > MaxGridSize {
		return fmt.Errorf("%w: %d not in [2, %d]", ErrInvalidGridSize, n, MaxGridSize)
	}
	return nil
}

func (r Rules) validateBet(bet decimal.Decimal) error {
	if !bet.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidBet, bet)
	}
	if !bet.Equal(bet.Round(2)) {
		return fmt.Errorf("%w: %s has more than 2 decimal places", ErrInvalidBet, bet)
	}
	if r.MaxBet.IsPositive() && bet.GreaterThan(r.MaxBet) {
		return fmt.Errorf("%w: %s exceeds maximum %s", ErrInvalidBet, bet, r.MaxBet)
	}
	return nil
}

func validateMineCount(mines, gridSize int) error {
	if mines < MinMineCount || mines > gridSize-1 {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidMineCount, mines, MinMineCount, gridSize-1)
	}
	return nil
}
