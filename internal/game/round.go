package game

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultGridSize = 25 // 5x5 board
	MinMineCount    = 1
)

type State string

const (
	StateActive  State = "active"
	StateWon     State = "won"     // cashed out
	StateLost    State = "lost"    // hit a mine
	StateCleared State = "cleared" // every safe cell revealed, auto-settled
)

func (s State) Terminal() bool {
	return s == StateWon || s == StateLost || s == StateCleared
}

// Round is one play cycle from bet to settlement. It carries the hidden
// board and seeds, so it must never be handed to a client directly; use
// View for that.
type Round struct {
	ID             string          `json:"id"`
	Account        string          `json:"account"`
	BetAmount      decimal.Decimal `json:"bet_amount"`
	MineCount      int             `json:"mine_count"`
	GridSize       int             `json:"grid_size"`
	HouseEdge      decimal.Decimal `json:"house_edge"`
	MinePositions  []int           `json:"mine_positions"`
	Revealed       []int           `json:"revealed"`
	State          State           `json:"state"`
	Payout         decimal.Decimal `json:"payout"`
	HitIndex       *int            `json:"hit_index,omitempty"`
	ServerSeed     string          `json:"server_seed"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	EndedAt        time.Time       `json:"ended_at,omitempty"`

	// Settlement is a paying transition reserved in the store whose credit
	// has not been confirmed. The round stays active until it is.
	Settlement *Settlement `json:"settlement,omitempty"`
}

// Settlement records how an active round ends once its payout is credited.
type Settlement struct {
	State   State           `json:"state"`
	Payout  decimal.Decimal `json:"payout"`
	Cell    *int            `json:"cell,omitempty"` // last safe cell of a cleared board
	EndedAt time.Time       `json:"ended_at"`
}

func (r *Round) PickCount() int {
	return len(r.Revealed)
}

func (r *Round) SafeCells() int {
	return r.GridSize - r.MineCount
}

func (r *Round) Clone() *Round {
	c := *r
	c.MinePositions = slices.Clone(r.MinePositions)
	c.Revealed = slices.Clone(r.Revealed)
	if r.HitIndex != nil {
		hit := *r.HitIndex
		c.HitIndex = &hit
	}
	if r.Settlement != nil {
		s := *r.Settlement
		if s.Cell != nil {
			cell := *s.Cell
			s.Cell = &cell
		}
		c.Settlement = &s
	}
	return &c
}

// reserve returns r with next's paying transition attached as a pending
// settlement. next must follow from r by one reveal or a cash-out.
func (r *Round) reserve(next *Round) *Round {
	reserved := r.Clone()
	s := &Settlement{State: next.State, Payout: next.Payout, EndedAt: next.EndedAt}
	if next.PickCount() > r.PickCount() {
		cell := next.Revealed[len(next.Revealed)-1]
		s.Cell = &cell
	}
	reserved.Settlement = s
	return reserved
}

// settled applies the pending settlement.
func (r *Round) settled() *Round {
	next := r.Clone()
	s := next.Settlement
	next.Settlement = nil
	if s.Cell != nil {
		next.Revealed = append(next.Revealed, *s.Cell)
	}
	next.State = s.State
	next.Payout = s.Payout
	next.EndedAt = s.EndedAt
	return next
}

func (r *Round) isMine(index int) bool {
	return slices.Contains(r.MinePositions, index)
}

// Multiplier is the factor a cash-out would pay at the current pick count.
func (r *Round) Multiplier() float64 {
	mult, err := Multiplier(r.PickCount(), r.MineCount, r.GridSize)
	if err != nil {
		// pick count is bounded by the reveal transition
		panic(fmt.Sprintf("round %s: %v", r.ID, err))
	}
	return mult
}

func (r *Round) currentPayout() decimal.Decimal {
	return Payout(r.BetAmount, r.Multiplier(), r.HouseEdge)
}

func (r *Round) checkOpen() error {
	if r.State != StateActive {
		return fmt.Errorf("%w: round is %s", ErrInvalidRoundState, r.State)
	}
	if r.Settlement != nil {
		return fmt.Errorf("%w: round is settling as %s", ErrInvalidRoundState, r.Settlement.State)
	}
	return nil
}

// applyReveal returns the round that results from revealing index. The
// receiver is left untouched.
func (r *Round) applyReveal(index int, now time.Time) (*Round, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if index < 0 || index >= r.GridSize {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, r.GridSize)
	}
	if slices.Contains(r.Revealed, index) {
		return nil, fmt.Errorf("%w: cell %d already revealed", ErrInvalidRoundState, index)
	}

	next := r.Clone()
	if next.isMine(index) {
		next.State = StateLost
		next.Payout = decimal.Zero
		next.HitIndex = &index
		next.EndedAt = now
		return next, nil
	}

	next.Revealed = append(next.Revealed, index)
	if next.PickCount() == next.SafeCells() {
		next.State = StateCleared
		next.Payout = next.currentPayout()
		next.EndedAt = now
	}
	return next, nil
}

// applyCashOut settles an active round at the current multiplier. Zero
// picks is allowed and pays the bet back.
func (r *Round) applyCashOut(now time.Time) (*Round, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	next := r.Clone()
	next.State = StateWon
	next.Payout = next.currentPayout()
	next.EndedAt = now
	return next, nil
}

// View is what the presentation layer gets to see after each operation.
// The board and server seed are only filled in once the round is over.
type View struct {
	RoundID        string          `json:"round_id"`
	State          State           `json:"state"`
	BetAmount      decimal.Decimal `json:"bet_amount"`
	MineCount      int             `json:"mine_count"`
	GridSize       int             `json:"grid_size"`
	PickCount      int             `json:"pick_count"`
	Revealed       []int           `json:"revealed"`
	Multiplier     float64         `json:"multiplier"`
	NextMultiplier *float64        `json:"next_multiplier,omitempty"`
	Payout         decimal.Decimal `json:"payout"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`

	MinePositions []int  `json:"mine_positions,omitempty"`
	HitIndex      *int   `json:"hit_index,omitempty"`
	ServerSeed    string `json:"server_seed,omitempty"`
}

func (r *Round) View() View {
	v := View{
		RoundID:        r.ID,
		State:          r.State,
		BetAmount:      r.BetAmount,
		MineCount:      r.MineCount,
		GridSize:       r.GridSize,
		PickCount:      r.PickCount(),
		Revealed:       slices.Clone(r.Revealed),
		Multiplier:     r.Multiplier(),
		ServerSeedHash: r.ServerSeedHash,
		ClientSeed:     r.ClientSeed,
	}
	if v.Revealed == nil {
		v.Revealed = []int{}
	}

	if r.State == StateActive {
		v.Payout = r.currentPayout()
		if r.PickCount() < r.SafeCells() {
			next, _ := Multiplier(r.PickCount()+1, r.MineCount, r.GridSize)
			v.NextMultiplier = &next
		}
		return v
	}

	v.Payout = r.Payout
	v.MinePositions = slices.Clone(r.MinePositions)
	v.ServerSeed = r.ServerSeed
	if r.HitIndex != nil {
		hit := *r.HitIndex
		v.HitIndex = &hit
	}
	return v
}
