// Package ranking orders waitlist entries by a reproducible priority score.
//
// The score of an entry is the drop's base priority plus a pseudo-random
// offset drawn from a BLAKE3 keyed hash of (drop_id, user_id, joined_at).
// The key is derived from the deployment's priority seed, so the same inputs
// always rank the same way and no wall-clock or ambient randomness is involved.
package ranking

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/rl1809/dropspot/internal/core/domain"
)

// DefaultSeed is used when no seed is configured.
const DefaultSeed = "deadbeefcafe"

// ScoreSpread bounds the pseudo-random offset to [0, ScoreSpread).
const ScoreSpread = 1_000_000

const keyContext = "dropspot.priority.v1|"

type Ranker struct {
	key [32]byte
}

func New(seed string) *Ranker {
	if seed == "" {
		seed = DefaultSeed
	}
	return &Ranker{key: blake3.Sum256([]byte(keyContext + seed))}
}

// Score returns the priority score of entry within drop.
func (r *Ranker) Score(drop domain.Drop, entry domain.WaitlistEntry) int64 {
	hasher, err := blake3.NewKeyed(r.key[:])
	if err != nil {
		// only possible with a key that is not 32 bytes
		panic(err)
	}

	var joined [8]byte
	binary.BigEndian.PutUint64(joined[:], uint64(domain.NormalizeTime(entry.JoinedAt).UnixMicro()))

	hasher.Write([]byte(drop.ID))
	hasher.Write([]byte{0})
	hasher.Write([]byte(entry.UserID))
	hasher.Write([]byte{0})
	hasher.Write(joined[:])

	sum := hasher.Sum(nil)
	offset := binary.BigEndian.Uint64(sum[:8]) % ScoreSpread
	return int64(drop.BasePriority) + int64(offset)
}

// Rank returns a scored copy of entries ordered by descending score, then
// ascending joined_at, then ascending user_id. The input is not modified.
func (r *Ranker) Rank(drop domain.Drop, entries []domain.WaitlistEntry) []domain.WaitlistEntry {
	ranked := make([]domain.WaitlistEntry, len(entries))
	copy(ranked, entries)
	for i := range ranked {
		ranked[i].PriorityScore = r.Score(drop, ranked[i])
	}

	sort.Slice(ranked, func(i, j int) bool {
		return Less(ranked[i], ranked[j])
	})
	return ranked
}

// Less is the total order used by Rank on scored entries.
func Less(a, b domain.WaitlistEntry) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return strings.Compare(a.UserID, b.UserID) < 0
}

// Position returns the 0-based index of userID in ranked, or -1.
func Position(ranked []domain.WaitlistEntry, userID string) int {
	for i, e := range ranked {
		if e.UserID == userID {
			return i
		}
	}
	return -1
}
