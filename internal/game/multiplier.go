package game

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Multiplier returns the fair payout factor after picks safe reveals on a
// board of gridSize cells hiding mines mines. It is the reciprocal of the
// probability of surviving picks draws without replacement:
//
//	multiplier(0) = 1
//	multiplier(k) = multiplier(k-1) * (n-(k-1)) / (n-(k-1)-m)
//
// Asking for more picks than there are safe cells is a caller bug and is
// reported as ErrMultiplierDomain.
func Multiplier(picks, mines, gridSize int) (float64, error) {
	if gridSize < 2 || mines < 1 || mines >= gridSize {
		return 0, fmt.Errorf("%w: mines=%d grid=%d", ErrMultiplierDomain, mines, gridSize)
	}
	if picks < 0 || picks > gridSize-mines {
		return 0, fmt.Errorf("%w: picks=%d safe=%d", ErrMultiplierDomain, picks, gridSize-mines)
	}

	n := float64(gridSize)
	m := float64(mines)
	multiplier := 1.0
	for i := 0; i < picks; i++ {
		remaining := n - float64(i)
		multiplier *= remaining / (remaining - m)
	}
	return multiplier, nil
}

// Ladder lists the multipliers for every pick from 1 up to the number of
// safe cells. The grid is bounded like a playable round.
func Ladder(mines, gridSize int) ([]float64, error) {
	if err := validateGridSize(gridSize); err != nil {
		return nil, err
	}
	if _, err := Multiplier(0, mines, gridSize); err != nil {
		return nil, err
	}

	n := float64(gridSize)
	m := float64(mines)
	ladder := make([]float64, 0, gridSize-mines)
	multiplier := 1.0
	for i := 0; i < gridSize-mines; i++ {
		remaining := n - float64(i)
		multiplier *= remaining / (remaining - m)
		ladder = append(ladder, multiplier)
	}
	return ladder, nil
}

// MaxPayout caps a single settlement. Wide boards with half their cells
// mined reach multipliers far beyond any bankroll.
var MaxPayout = decimal.New(1, 12)

// Payout applies multiplier and house edge to bet and rounds to cents,
// half away from zero. The result never exceeds MaxPayout.
func Payout(bet decimal.Decimal, multiplier float64, houseEdge decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromFloat(multiplier)
	if !houseEdge.IsZero() {
		factor = factor.Mul(decimal.NewFromInt(1).Sub(houseEdge))
	}
	payout := bet.Mul(factor).Round(2)
	if payout.GreaterThan(MaxPayout) {
		return MaxPayout
	}
	return payout
}
