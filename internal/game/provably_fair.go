package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// hmacStream yields uint32 values from HMAC-SHA256(serverSeed, clientSeed:counter)
// blocks, advancing the counter whenever a block is exhausted.
type hmacStream struct {
	serverSeed []byte
	clientSeed string
	counter    int
	block      []byte
}

func (s *hmacStream) next() uint32 {
	if len(s.block) < 4 {
		h := hmac.New(sha256.New, s.serverSeed)
		fmt.Fprintf(h, "%s:%d", s.clientSeed, s.counter)
		s.block = h.Sum(nil)
		s.counter++
	}
	v := binary.BigEndian.Uint32(s.block[:4])
	s.block = s.block[4:]
	return v
}

// intn returns a uniform value in [0, n) by rejection sampling.
func (s *hmacStream) intn(n int) int {
	bound := uint64(n)
	limit := (uint64(math.MaxUint32) + 1) / bound * bound
	for {
		v := uint64(s.next())
		if v < limit {
			return int(v % bound)
		}
	}
}

// MinePositions derives mineCount distinct cells in [0, gridSize) from the
// seeds with a partial Fisher-Yates shuffle. The result is sorted.
func MinePositions(serverSeed, clientSeed string, mineCount, gridSize int) []int {
	cells := make([]int, gridSize)
	for i := range cells {
		cells[i] = i
	}

	stream := &hmacStream{serverSeed: []byte(serverSeed), clientSeed: clientSeed}
	for i := 0; i < mineCount; i++ {
		j := i + stream.intn(gridSize-i)
		cells[i], cells[j] = cells[j], cells[i]
	}

	positions := append([]int(nil), cells[:mineCount]...)
	sort.Ints(positions)
	return positions
}

// Verification is the outcome of recomputing a settled board.
type Verification struct {
	ServerSeedHash string `json:"server_seed_hash"`
	MinePositions  []int  `json:"mine_positions"`
}

// Verify recomputes the board a revealed server seed and client seed
// produce, so a player can compare it with the committed hash and the
// positions shown at the end of a round.
func Verify(serverSeed, clientSeed string, mineCount, gridSize int) (Verification, error) {
	if err := validateGridSize(gridSize); err != nil {
		return Verification{}, err
	}
	if err := validateMineCount(mineCount, gridSize); err != nil {
		return Verification{}, err
	}
	return Verification{
		ServerSeedHash: HashCommitment(serverSeed),
		MinePositions:  MinePositions(serverSeed, clientSeed, mineCount, gridSize),
	}, nil
}
