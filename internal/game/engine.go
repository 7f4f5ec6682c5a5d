package game

import (
	"context"

	"github.com/shopspring/decimal"
)

// Wallet moves money for an account. Implementations must apply each ref
// at most once so that a retried settlement never pays twice, and must
// return ErrInsufficientBalance when a debit would overdraw the account.
type Wallet interface {
	Debit(ctx context.Context, account string, amount decimal.Decimal, ref string) error
	Credit(ctx context.Context, account string, amount decimal.Decimal, ref string) error
}

// RoundStore keeps rounds in play.
//
// Create fails with ErrRoundInProgress when the account already has an
// active round. Get and Active return ErrRoundNotFound for unknown rounds.
// Update replaces the round only if the stored version still equals
// prevVersion (ErrVersionConflict otherwise). A terminal round stops being
// the account's active round but stays readable through Get for a while,
// so late requests against it see its final state.
type RoundStore interface {
	Create(ctx context.Context, r *Round) error
	Get(ctx context.Context, id string) (*Round, error)
	Active(ctx context.Context, account string) (*Round, error)
	Update(ctx context.Context, r *Round, prevVersion int) error
}

// Recorder receives every round once it has reached a terminal state.
type Recorder interface {
	RecordRound(ctx context.Context, r *Round) error
}

type StartRequest struct {
	Account    string          `json:"-"`
	BetAmount  decimal.Decimal `json:"bet_amount"`
	MineCount  int             `json:"mine_count"`
	GridSize   int             `json:"grid_size,omitempty"` // zero uses the table default
	ClientSeed string          `json:"client_seed,omitempty"`
}

type RevealRequest struct {
	Account string `json:"-"`
	RoundID string `json:"round_id"`
	Index   int    `json:"index"`
	// PickCount is the pick count the caller last saw. When set, a reveal
	// against a round that has moved on is rejected with ErrStaleRequest.
	PickCount *int `json:"pick_count,omitempty"`
}

type CashOutRequest struct {
	Account string `json:"-"`
	RoundID string `json:"round_id"`
}
