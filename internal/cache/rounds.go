package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mines/internal/game"
)

const (
	keyRound  = "mines:round:%s"
	keyActive = "mines:active:%s"

	// finishedRoundTTL is how long a terminal round answers late requests.
	finishedRoundTTL = 24 * time.Hour
)

// A round lives in a hash {version, data}; the account's active pointer
// names the round id. Both scripts return 1 on success.
var createRoundScript = redis.NewScript(`
	local roundKey = KEYS[1]
	local activeKey = KEYS[2]

	if redis.call("EXISTS", activeKey) == 1 then
		return 0
	end

	redis.call("HSET", roundKey, "version", ARGV[2], "data", ARGV[3])
	redis.call("SET", activeKey, ARGV[1])
	return 1
`)

// updateRoundScript returns -1 for a missing round and 0 for a version
// mismatch. A terminal round is kept with an expiry and loses the active
// pointer if it still holds it.
var updateRoundScript = redis.NewScript(`
	local roundKey = KEYS[1]
	local activeKey = KEYS[2]

	local version = redis.call("HGET", roundKey, "version")
	if not version then
		return -1
	end
	if version ~= ARGV[1] then
		return 0
	end

	redis.call("HSET", roundKey, "version", ARGV[2], "data", ARGV[3])
	if ARGV[4] == "1" then
		redis.call("EXPIRE", roundKey, ARGV[6])
		if redis.call("GET", activeKey) == ARGV[5] then
			redis.call("DEL", activeKey)
		end
	end
	return 1
`)

// RoundStore is a game.RoundStore backed by Redis.
type RoundStore struct {
	client *redis.Client
}

var _ game.RoundStore = (*RoundStore)(nil)

func NewRoundStore(client *redis.Client) *RoundStore {
	return &RoundStore{client: client}
}

func (s *RoundStore) Create(ctx context.Context, r *game.Round) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	keys := []string{fmt.Sprintf(keyRound, r.ID), fmt.Sprintf(keyActive, r.Account)}
	res, err := createRoundScript.Run(ctx, s.client, keys, r.ID, r.Version, data).Int64()
	if err != nil {
		return fmt.Errorf("create round %s: %w", r.ID, err)
	}
	if res == 0 {
		return game.ErrRoundInProgress
	}
	return nil
}

func (s *RoundStore) Get(ctx context.Context, id string) (*game.Round, error) {
	data, err := s.client.HGet(ctx, fmt.Sprintf(keyRound, id), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, game.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get round %s: %w", id, err)
	}

	var r game.Round
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal round %s: %w", id, err)
	}
	return &r, nil
}

func (s *RoundStore) Active(ctx context.Context, account string) (*game.Round, error) {
	id, err := s.client.Get(ctx, fmt.Sprintf(keyActive, account)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, game.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active round for %s: %w", account, err)
	}
	return s.Get(ctx, id)
}

func (s *RoundStore) Update(ctx context.Context, r *game.Round, prevVersion int) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	terminal := "0"
	if r.State.Terminal() {
		terminal = "1"
	}

	keys := []string{fmt.Sprintf(keyRound, r.ID), fmt.Sprintf(keyActive, r.Account)}
	res, err := updateRoundScript.Run(ctx, s.client, keys,
		strconv.Itoa(prevVersion), r.Version, data, terminal, r.ID, int(finishedRoundTTL.Seconds())).Int64()
	if err != nil {
		return fmt.Errorf("update round %s: %w", r.ID, err)
	}

	switch res {
	case -1:
		return game.ErrRoundNotFound
	case 0:
		return fmt.Errorf("%w: round %s is past version %d", game.ErrVersionConflict, r.ID, prevVersion)
	}
	return nil
}
