package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"mines/internal/config"
	"mines/internal/game"
)

var redisAddr string

func mustStartRedisContainer() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, err
	}

	endpoint, err := container.Endpoint(context.Background(), "")
	if err != nil {
		return container.Terminate, err
	}
	redisAddr = endpoint
	return container.Terminate, nil
}

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		os.Exit(0)
	}

	teardown, err := mustStartRedisContainer()
	if err != nil {
		os.Exit(0)
	}

	code := m.Run()

	if teardown != nil {
		teardown(context.Background())
	}
	os.Exit(code)
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

var dbCounter atomic.Int32

// newClient connects to a fresh logical database so tests do not share keys.
func newClient(t *testing.T) *redis.Client {
	t.Helper()
	db := int(dbCounter.Add(1) % 16)
	srv, err := New(config.RedisConfig{Addr: redisAddr, DB: db}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	client := srv.GetClient()
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush db %d: %v", db, err)
	}
	t.Cleanup(func() { srv.Close() })
	return client
}

func TestService_Interface(t *testing.T) {
	var _ Service = (*service)(nil)
}

func TestNew_Unreachable(t *testing.T) {
	if _, err := New(config.RedisConfig{Addr: "127.0.0.1:1"}, nil); err == nil {
		t.Fatal("New() should fail when redis is unreachable")
	}
}

func TestHealth(t *testing.T) {
	srv, err := New(config.RedisConfig{Addr: redisAddr}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer srv.Close()

	stats := srv.Health()
	if stats["status"] != "up" {
		t.Fatalf("expected status to be up, got %s", stats["status"])
	}
	if stats["message"] != "Redis is healthy" {
		t.Fatalf("unexpected message %q", stats["message"])
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWallet(t *testing.T) {
	ctx := context.Background()
	w := NewWallet(newClient(t))

	t.Run("unknown account is empty", func(t *testing.T) {
		bal, err := w.Balance(ctx, "nobody")
		if err != nil || !bal.IsZero() {
			t.Fatalf("Balance() = %s, %v; want 0", bal, err)
		}
	})

	t.Run("credit and debit", func(t *testing.T) {
		if err := w.Credit(ctx, "alice", dec("100.50"), "fund-1"); err != nil {
			t.Fatalf("Credit() error: %v", err)
		}
		if err := w.Debit(ctx, "alice", dec("40.25"), "r1:bet"); err != nil {
			t.Fatalf("Debit() error: %v", err)
		}
		bal, _ := w.Balance(ctx, "alice")
		if !bal.Equal(dec("60.25")) {
			t.Errorf("Balance() = %s, want 60.25", bal)
		}
	})

	t.Run("refs apply once", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := w.Credit(ctx, "bob", dec("10"), "r2:payout"); err != nil {
				t.Fatalf("Credit() error: %v", err)
			}
		}
		bal, _ := w.Balance(ctx, "bob")
		if !bal.Equal(dec("10")) {
			t.Errorf("Balance() = %s after repeated ref, want 10", bal)
		}
	})

	t.Run("overdraw", func(t *testing.T) {
		err := w.Debit(ctx, "carol", dec("0.01"), "r3:bet")
		if !errors.Is(err, game.ErrInsufficientBalance) {
			t.Fatalf("Debit() error = %v, want ErrInsufficientBalance", err)
		}
		// A rejected debit does not consume its ref.
		w.Credit(ctx, "carol", dec("1"), "fund-carol")
		if err := w.Debit(ctx, "carol", dec("0.01"), "r3:bet"); err != nil {
			t.Fatalf("Debit() retry error: %v", err)
		}
	})

	t.Run("invalid amounts", func(t *testing.T) {
		for _, amount := range []string{"0", "-1", "0.001", "1e29", "90071992547409.92"} {
			if err := w.Credit(ctx, "dave", dec(amount), "bad-"+amount); err == nil {
				t.Errorf("Credit(%s) should fail", amount)
			}
		}
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		w.Credit(ctx, "erin", dec("10"), "fund-erin")
		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if w.Debit(ctx, "erin", dec("1"), fmt.Sprintf("erin-%d", n)) == nil {
					ok.Add(1)
				}
			}(i)
		}
		wg.Wait()
		if ok.Load() != 10 {
			t.Errorf("%d debits succeeded, want 10", ok.Load())
		}
		bal, _ := w.Balance(ctx, "erin")
		if !bal.IsZero() {
			t.Errorf("Balance() = %s, want 0", bal)
		}
	})
}

func testRound(id, account string) *game.Round {
	return &game.Round{
		ID:            id,
		Account:       account,
		BetAmount:     dec("100"),
		MineCount:     3,
		GridSize:      25,
		HouseEdge:     decimal.Zero,
		MinePositions: []int{1, 2, 3},
		State:         game.StateActive,
		Payout:        decimal.Zero,
		ServerSeed:    "seed",
		ClientSeed:    "client",
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestRoundStore(t *testing.T) {
	ctx := context.Background()
	s := NewRoundStore(newClient(t))

	r := testRound("r1", "alice")
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	t.Run("one active round per account", func(t *testing.T) {
		err := s.Create(ctx, testRound("r2", "alice"))
		if !errors.Is(err, game.ErrRoundInProgress) {
			t.Fatalf("Create() error = %v, want ErrRoundInProgress", err)
		}
	})

	t.Run("get and active", func(t *testing.T) {
		got, err := s.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if got.Account != "alice" || !got.BetAmount.Equal(dec("100")) || len(got.MinePositions) != 3 {
			t.Errorf("Get() = %+v", got)
		}
		active, err := s.Active(ctx, "alice")
		if err != nil || active.ID != "r1" {
			t.Fatalf("Active() = %v, %v; want r1", active, err)
		}
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, game.ErrRoundNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrRoundNotFound", err)
		}
		if _, err := s.Active(ctx, "bob"); !errors.Is(err, game.ErrRoundNotFound) {
			t.Errorf("Active(bob) error = %v, want ErrRoundNotFound", err)
		}
	})

	t.Run("update checks version", func(t *testing.T) {
		next := r.Clone()
		next.Revealed = []int{0}
		next.Version = 1
		if err := s.Update(ctx, next, 0); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
		stale := next.Clone()
		stale.Version = 1
		if err := s.Update(ctx, stale, 0); !errors.Is(err, game.ErrVersionConflict) {
			t.Fatalf("stale Update() error = %v, want ErrVersionConflict", err)
		}
		got, _ := s.Get(ctx, "r1")
		if got.Version != 1 || got.PickCount() != 1 {
			t.Errorf("stored round = version %d picks %d, want 1 and 1", got.Version, got.PickCount())
		}
	})

	t.Run("terminal update keeps an expiring tombstone", func(t *testing.T) {
		done, _ := s.Get(ctx, "r1")
		done.State = game.StateWon
		done.Version = 2
		if err := s.Update(ctx, done, 1); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
		got, err := s.Get(ctx, "r1")
		if err != nil || got.State != game.StateWon {
			t.Fatalf("Get() after settle = %v, %v; want the won round", got, err)
		}
		ttl, err := s.client.TTL(ctx, fmt.Sprintf(keyRound, "r1")).Result()
		if err != nil || ttl <= 0 || ttl > finishedRoundTTL {
			t.Errorf("tombstone TTL = %v, %v; want within %v", ttl, err, finishedRoundTTL)
		}
		if _, err := s.Active(ctx, "alice"); !errors.Is(err, game.ErrRoundNotFound) {
			t.Errorf("Active() after settle error = %v, want ErrRoundNotFound", err)
		}
		if err := s.Create(ctx, testRound("r3", "alice")); err != nil {
			t.Errorf("Create() after settle error: %v", err)
		}
		if err := s.Update(ctx, done, 1); !errors.Is(err, game.ErrVersionConflict) {
			t.Errorf("Update(settled, stale) error = %v, want ErrVersionConflict", err)
		}
		active, err := s.Active(ctx, "alice")
		if err != nil || active.ID != "r3" {
			t.Errorf("Active() = %v, %v; want r3", active, err)
		}
	})
}

func TestEngineOnRedis(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	wallet := NewWallet(client)
	store := NewRoundStore(client)

	engine, err := game.NewEngine(wallet, store, game.DefaultRules())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	wallet.Credit(ctx, "alice", dec("1000"), "fund")

	view, err := engine.Start(ctx, game.StartRequest{Account: "alice", BetAmount: dec("100"), MineCount: 3})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	bal, _ := wallet.Balance(ctx, "alice")
	if !bal.Equal(dec("900")) {
		t.Errorf("Balance() after start = %s, want 900", bal)
	}

	final, err := engine.CashOut(ctx, game.CashOutRequest{Account: "alice", RoundID: view.RoundID})
	if err != nil {
		t.Fatalf("CashOut() error: %v", err)
	}
	if final.State != game.StateWon || !final.Payout.Equal(dec("100")) {
		t.Errorf("CashOut() = %s paying %s, want won paying 100", final.State, final.Payout)
	}
	bal, _ = wallet.Balance(ctx, "alice")
	if !bal.Equal(dec("1000")) {
		t.Errorf("Balance() after cash out = %s, want 1000", bal)
	}

	_, err = engine.CashOut(ctx, game.CashOutRequest{Account: "alice", RoundID: view.RoundID})
	if !errors.Is(err, game.ErrInvalidRoundState) {
		t.Errorf("second CashOut() error = %v, want ErrInvalidRoundState", err)
	}
	bal, _ = wallet.Balance(ctx, "alice")
	if !bal.Equal(dec("1000")) {
		t.Errorf("Balance() after second cash out = %s, want 1000", bal)
	}
}
