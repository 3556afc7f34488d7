package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"hillchain/internal/state"
)

// Seed percentages by who triggered settlement. The carried-over seed and the
// beneficiary credit are numerically equal but distinct: the leader keeps
// pot - 2*seed.
const (
	seedPctBeneficiary uint64 = 10
	seedPctLeader      uint64 = 5
	seedPctOther       uint64 = 8
)

// settleRound closes an expired round: splits the pot between leader and
// beneficiary, reseeds the pot, and marks the round inactive. The leader slot
// keeps pointing at the winner until the next bid. Callers are responsible for
// checking expiry first.
func settleRound(g *state.Game, trigger string) (abci.Event, error) {
	pot := g.Pot

	var pct uint64
	switch {
	case trigger == g.Beneficiary:
		pct = seedPctBeneficiary
	case trigger == g.Leader:
		pct = seedPctLeader
	default:
		pct = seedPctOther
	}

	scaled, err := mulU64Checked(pot, pct, "seed")
	if err != nil {
		return abci.Event{}, err
	}
	seed := scaled / 100

	// pct <= 10, so 2*seed <= pot/5 and the shares cannot underflow.
	leaderShare := pot - 2*seed

	if err := g.CreditReward(g.Leader, leaderShare); err != nil {
		return abci.Event{}, fmt.Errorf("%w: leader share: %v", ErrTransferFailed, err)
	}
	if err := g.CreditReward(g.Beneficiary, seed); err != nil {
		return abci.Event{}, fmt.Errorf("%w: beneficiary share: %v", ErrTransferFailed, err)
	}

	ev := abci.Event{
		Type: "RoundWon",
		Attributes: []abci.EventAttribute{
			{Key: "gameId", Value: fmt.Sprintf("%d", g.ID), Index: true},
			{Key: "leader", Value: g.Leader, Index: true},
			{Key: "pot", Value: fmt.Sprintf("%d", pot), Index: false},
		},
	}

	g.Pot = seed
	g.RoundStartHeight = 0

	return ev, nil
}
