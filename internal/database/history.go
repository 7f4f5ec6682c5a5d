package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mines/internal/game"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

const insertRound = `
INSERT INTO mines_rounds (
    id, account, bet_amount, mine_count, grid_size, house_edge, state, payout,
    pick_count, revealed, mine_positions, hit_index,
    server_seed, server_seed_hash, client_seed, created_at, ended_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO NOTHING`

const selectRounds = `
SELECT id, account, bet_amount, mine_count, grid_size, house_edge, state, payout,
       revealed, mine_positions, hit_index,
       server_seed, server_seed_hash, client_seed, created_at, ended_at
FROM mines_rounds
WHERE account = $1
ORDER BY ended_at DESC
LIMIT $2`

func (s *service) RecordRound(ctx context.Context, r *game.Round) error {
	if !r.State.Terminal() {
		return fmt.Errorf("record round %s: %w", r.ID, game.ErrInvalidRoundState)
	}

	revealed, err := json.Marshal(nonNil(r.Revealed))
	if err != nil {
		return err
	}
	mines, err := json.Marshal(nonNil(r.MinePositions))
	if err != nil {
		return err
	}

	var hit sql.NullInt32
	if r.HitIndex != nil {
		hit = sql.NullInt32{Int32: int32(*r.HitIndex), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, insertRound,
		r.ID, r.Account, r.BetAmount, r.MineCount, r.GridSize, r.HouseEdge, string(r.State), r.Payout,
		r.PickCount(), string(revealed), string(mines), hit,
		r.ServerSeed, r.ServerSeedHash, r.ClientSeed, r.CreatedAt, r.EndedAt)
	if err != nil {
		return fmt.Errorf("record round %s: %w", r.ID, err)
	}
	return nil
}

// ListRounds clamps limit to [1, 100]; zero or less means 20.
func (s *service) ListRounds(ctx context.Context, account string, limit int) ([]*game.Round, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, selectRounds, account, limit)
	if err != nil {
		return nil, fmt.Errorf("list rounds for %s: %w", account, err)
	}
	defer rows.Close()

	rounds := make([]*game.Round, 0, limit)
	for rows.Next() {
		var (
			r        game.Round
			state    string
			revealed []byte
			mines    []byte
			hit      sql.NullInt32
		)
		if err := rows.Scan(&r.ID, &r.Account, &r.BetAmount, &r.MineCount, &r.GridSize, &r.HouseEdge,
			&state, &r.Payout, &revealed, &mines, &hit,
			&r.ServerSeed, &r.ServerSeedHash, &r.ClientSeed, &r.CreatedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if err := json.Unmarshal(revealed, &r.Revealed); err != nil {
			return nil, fmt.Errorf("round %s revealed: %w", r.ID, err)
		}
		if err := json.Unmarshal(mines, &r.MinePositions); err != nil {
			return nil, fmt.Errorf("round %s mine positions: %w", r.ID, err)
		}
		r.State = game.State(state)
		if hit.Valid {
			idx := int(hit.Int32)
			r.HitIndex = &idx
		}
		rounds = append(rounds, &r)
	}
	return rounds, rows.Err()
}

func nonNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
