package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"mines/internal/game"
)

const (
	keyBalance   = "wallet:%s:balance"
	keyWalletRef = "wallet:ref:%s"

	// refTTL bounds how long an applied ref is remembered.
	refTTL = 30 * 24 * time.Hour

	// maxCents is the largest amount the scripts' Lua numbers hold exactly.
	maxCents = 1<<53 - 1
)

var errInvalidAmount = errors.New("wallet: amount must be a positive whole number of cents within range")

// Balances are stored as integer cents. Each script returns 1 when the
// movement was applied, 0 when the ref was already applied, and -1 when
// a debit would overdraw the account.
var debitScript = redis.NewScript(`
	local balanceKey = KEYS[1]
	local refKey = KEYS[2]
	local amount = tonumber(ARGV[1])

	if redis.call("EXISTS", refKey) == 1 then
		return 0
	end

	local balance = tonumber(redis.call("GET", balanceKey) or "0")
	if balance < amount then
		return -1
	end

	redis.call("DECRBY", balanceKey, amount)
	redis.call("SET", refKey, "debit", "EX", ARGV[2])
	return 1
`)

var creditScript = redis.NewScript(`
	local balanceKey = KEYS[1]
	local refKey = KEYS[2]
	local amount = tonumber(ARGV[1])

	if redis.call("EXISTS", refKey) == 1 then
		return 0
	end

	redis.call("INCRBY", balanceKey, amount)
	redis.call("SET", refKey, "credit", "EX", ARGV[2])
	return 1
`)

// Wallet is a game.Wallet backed by Redis.
type Wallet struct {
	client *redis.Client
}

var _ game.Wallet = (*Wallet)(nil)

func NewWallet(client *redis.Client) *Wallet {
	return &Wallet{client: client}
}

func (w *Wallet) Debit(ctx context.Context, account string, amount decimal.Decimal, ref string) error {
	res, err := w.move(ctx, debitScript, account, amount, ref)
	if err != nil {
		return fmt.Errorf("debit %s: %w", account, err)
	}
	if res < 0 {
		return game.ErrInsufficientBalance
	}
	return nil
}

func (w *Wallet) Credit(ctx context.Context, account string, amount decimal.Decimal, ref string) error {
	if _, err := w.move(ctx, creditScript, account, amount, ref); err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

// Balance returns the account balance; unknown accounts hold zero.
func (w *Wallet) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	cents, err := w.client.Get(ctx, fmt.Sprintf(keyBalance, account)).Int64()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance %s: %w", account, err)
	}
	return decimal.New(cents, -2), nil
}

func (w *Wallet) move(ctx context.Context, script *redis.Script, account string, amount decimal.Decimal, ref string) (int64, error) {
	cents, err := toCents(amount)
	if err != nil {
		return 0, err
	}
	keys := []string{fmt.Sprintf(keyBalance, account), fmt.Sprintf(keyWalletRef, ref)}
	return script.Run(ctx, w.client, keys, cents, int64(refTTL/time.Second)).Int64()
}

func toCents(amount decimal.Decimal) (int64, error) {
	cents := amount.Shift(2)
	if !amount.IsPositive() || !cents.IsInteger() || cents.GreaterThan(decimal.NewFromInt(maxCents)) {
		return 0, errInvalidAmount
	}
	return cents.IntPart(), nil
}
