package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine enforces the rules and payout mathematics of Mines rounds. It
// owns no balances: money only moves through the Wallet it is given.
type Engine struct {
	wallet   Wallet
	store    RoundStore
	recorder Recorder
	rules    Rules
	log      *zap.Logger

	locks   *keyedMutex
	newID   func() string
	newSeed func() string
	now     func() time.Time
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSeedSource replaces the crypto/rand seed generator.
func WithSeedSource(f func() string) Option {
	return func(e *Engine) { e.newSeed = f }
}

func WithIDSource(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

func WithClock(f func() time.Time) Option {
	return func(e *Engine) { e.now = f }
}

func NewEngine(wallet Wallet, store RoundStore, rules Rules, opts ...Option) (*Engine, error) {
	if wallet == nil || store == nil {
		return nil, errors.New("mines engine needs a wallet and a round store")
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("mines rules: %w", err)
	}
	e := &Engine{
		wallet:  wallet,
		store:   store,
		rules:   rules,
		log:     zap.NewNop(),
		locks:   newKeyedMutex(),
		newID:   func() string { return uuid.New().String() },
		newSeed: GenerateSeed,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("mines")
	return e, nil
}

func (e *Engine) Rules() Rules {
	return e.rules
}

func debitRef(roundID string) string  { return roundID + ":bet" }
func refundRef(roundID string) string { return roundID + ":refund" }
func payoutRef(roundID string) string { return roundID + ":payout" }

// Start validates the bet, debits it and opens a new active round. Nothing
// is debited when validation fails.
func (e *Engine) Start(ctx context.Context, req StartRequest) (View, error) {
	gridSize := req.GridSize
	if gridSize == 0 {
		gridSize = e.rules.GridSize
	}
	if err := validateGridSize(gridSize); err != nil {
		return View{}, err
	}
	if err := e.rules.validateBet(req.BetAmount); err != nil {
		return View{}, err
	}
	if err := validateMineCount(req.MineCount, gridSize); err != nil {
		return View{}, err
	}

	unlock := e.locks.lock("account:" + req.Account)
	defer unlock()

	if _, err := e.store.Active(ctx, req.Account); err == nil {
		return View{}, ErrRoundInProgress
	} else if !errors.Is(err, ErrRoundNotFound) {
		return View{}, fmt.Errorf("load active round: %w", err)
	}

	clientSeed := req.ClientSeed
	if clientSeed == "" {
		clientSeed = e.newSeed()
	}
	serverSeed := e.newSeed()

	round := &Round{
		ID:             e.newID(),
		Account:        req.Account,
		BetAmount:      req.BetAmount,
		MineCount:      req.MineCount,
		GridSize:       gridSize,
		HouseEdge:      e.rules.HouseEdge,
		MinePositions:  MinePositions(serverSeed, clientSeed, req.MineCount, gridSize),
		Revealed:       []int{},
		State:          StateActive,
		ServerSeed:     serverSeed,
		ServerSeedHash: HashCommitment(serverSeed),
		ClientSeed:     clientSeed,
		CreatedAt:      e.now(),
	}

	if err := e.wallet.Debit(ctx, req.Account, req.BetAmount, debitRef(round.ID)); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return View{}, err
		}
		return View{}, fmt.Errorf("%w: debit bet: %w", ErrSettlementFailed, err)
	}

	if err := e.store.Create(ctx, round); err != nil {
		createErr := fmt.Errorf("create round: %w", err)
		if refundErr := e.wallet.Credit(ctx, req.Account, req.BetAmount, refundRef(round.ID)); refundErr != nil {
			e.log.Error("bet refund failed",
				zap.String("round_id", round.ID),
				zap.String("account", req.Account),
				zap.Stringer("amount", req.BetAmount),
				zap.Error(refundErr))
			return View{}, errors.Join(createErr, fmt.Errorf("%w: refund bet: %w", ErrSettlementFailed, refundErr))
		}
		return View{}, createErr
	}

	e.log.Info("round started",
		zap.String("round_id", round.ID),
		zap.String("account", round.Account),
		zap.Stringer("bet", round.BetAmount),
		zap.Int("mines", round.MineCount),
		zap.Int("grid", round.GridSize))

	return round.View(), nil
}

// Reveal uncovers one cell. A mine ends the round with no payout; the last
// safe cell ends it with an automatic cash-out.
func (e *Engine) Reveal(ctx context.Context, req RevealRequest) (View, error) {
	unlock := e.locks.lock(req.RoundID)
	defer unlock()

	round, err := e.load(ctx, req.Account, req.RoundID)
	if err != nil {
		return View{}, err
	}
	if round.Settlement != nil {
		// Finish what an earlier request reserved, then reject this one.
		if _, err := e.settle(ctx, round); err != nil {
			return View{}, err
		}
		return View{}, fmt.Errorf("%w: round is %s", ErrInvalidRoundState, round.Settlement.State)
	}
	if req.PickCount != nil && round.State == StateActive && *req.PickCount != round.PickCount() {
		return View{}, fmt.Errorf("%w: saw %d picks, round has %d", ErrStaleRequest, *req.PickCount, round.PickCount())
	}

	next, err := round.applyReveal(req.Index, e.now())
	if err != nil {
		return View{}, err
	}
	return e.commit(ctx, round, next)
}

// CashOut settles an active round at its current multiplier. A round whose
// payout credit failed earlier is settled again at the reserved amount.
func (e *Engine) CashOut(ctx context.Context, req CashOutRequest) (View, error) {
	unlock := e.locks.lock(req.RoundID)
	defer unlock()

	round, err := e.load(ctx, req.Account, req.RoundID)
	if err != nil {
		return View{}, err
	}
	if round.Settlement != nil {
		return e.settle(ctx, round)
	}
	next, err := round.applyCashOut(e.now())
	if err != nil {
		return View{}, err
	}
	return e.commit(ctx, round, next)
}

// Active returns the account's round in progress.
func (e *Engine) Active(ctx context.Context, account string) (View, error) {
	round, err := e.store.Active(ctx, account)
	if err != nil {
		return View{}, err
	}
	return round.View(), nil
}

func (e *Engine) load(ctx context.Context, account, roundID string) (*Round, error) {
	round, err := e.store.Get(ctx, roundID)
	if err != nil {
		if errors.Is(err, ErrRoundNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load round %s: %w", roundID, err)
	}
	if round.Account != account {
		return nil, ErrRoundNotFound
	}
	return round, nil
}

// commit persists the transition from prev to next. A paying transition is
// first reserved against prev's version, so no other writer can end the
// round differently once the credit is under way.
func (e *Engine) commit(ctx context.Context, prev, next *Round) (View, error) {
	if next.State.Terminal() && next.Payout.IsPositive() {
		reserved := prev.reserve(next)
		if err := e.save(ctx, prev, reserved); err != nil {
			return View{}, err
		}
		return e.settle(ctx, reserved)
	}

	if err := e.save(ctx, prev, next); err != nil {
		return View{}, err
	}
	e.finished(ctx, next)
	return next.View(), nil
}

// settle credits a reserved payout and then ends the round. A failed credit
// leaves the round active with its reservation in place.
func (e *Engine) settle(ctx context.Context, reserved *Round) (View, error) {
	s := reserved.Settlement
	if err := e.wallet.Credit(ctx, reserved.Account, s.Payout, payoutRef(reserved.ID)); err != nil {
		e.log.Warn("payout credit failed",
			zap.String("round_id", reserved.ID),
			zap.Stringer("payout", s.Payout),
			zap.Error(err))
		return View{}, fmt.Errorf("%w: credit payout: %w", ErrSettlementFailed, err)
	}

	final := reserved.settled()
	if err := e.save(ctx, reserved, final); err != nil {
		// The payout ref is already applied; a retry credits nothing new.
		if errors.Is(err, ErrVersionConflict) {
			if cur, getErr := e.store.Get(ctx, final.ID); getErr == nil && cur.State.Terminal() {
				return cur.View(), nil
			}
		}
		e.log.Error("settled round not saved",
			zap.String("round_id", final.ID),
			zap.String("state", string(final.State)),
			zap.Error(err))
		return View{}, err
	}
	e.finished(ctx, final)
	return final.View(), nil
}

func (e *Engine) save(ctx context.Context, prev, next *Round) error {
	next.Version = prev.Version + 1
	if err := e.store.Update(ctx, next, prev.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("%w: %w", ErrStaleRequest, err)
		}
		return fmt.Errorf("save round %s: %w", next.ID, err)
	}
	return nil
}

func (e *Engine) finished(ctx context.Context, r *Round) {
	switch r.State {
	case StateActive:
		e.log.Debug("safe cell",
			zap.String("round_id", r.ID),
			zap.Int("picks", r.PickCount()))
		return
	case StateLost:
		e.log.Info("mine hit",
			zap.String("round_id", r.ID),
			zap.Int("index", *r.HitIndex),
			zap.Int("picks", r.PickCount()))
	default:
		e.log.Info("round settled",
			zap.String("round_id", r.ID),
			zap.String("state", string(r.State)),
			zap.Int("picks", r.PickCount()),
			zap.Stringer("payout", r.Payout))
	}

	if e.recorder != nil {
		if err := e.recorder.RecordRound(ctx, r); err != nil {
			e.log.Error("record round failed", zap.String("round_id", r.ID), zap.Error(err))
		}
	}
}
