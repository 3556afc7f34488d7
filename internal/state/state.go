package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// MinSeed is the smallest initial deposit accepted when creating a game:
// 1/1000 of the 1e6-microunit base unit.
const MinSeed uint64 = 1000

type State struct {
	Height int64 `json:"height"`

	NextGameID  uint64            `json:"nextGameId"`
	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"` // addr -> ed25519 pubkey (32 bytes)
	NonceMax    map[string]uint64 `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce (u64), for replay protection
	Games       map[uint64]*Game  `json:"games"`
}

// Game holds one king-of-the-hill round engine. The chain hosts any number of
// games, but each is an independent singleton: one pot, one leader slot, one
// reward ledger.
type Game struct {
	ID          uint64 `json:"id"`
	Beneficiary string `json:"beneficiary"`

	Pot    uint64 `json:"pot"`
	Leader string `json:"leader,omitempty"` // empty = no leader yet

	// RoundStartHeight is the block height at which the current leader took
	// the pot; 0 means no round is active.
	RoundStartHeight int64 `json:"roundStartHeight"`
	RoundLength      int64 `json:"roundLength"`

	// Rewards is value owed but not yet withdrawn. Entries are created lazily
	// on first credit and zeroed (not deleted) on withdrawal.
	Rewards map[string]uint64 `json:"rewards,omitempty"`
}

func NewState() *State {
	return &State{
		Height:      0,
		NextGameID:  1,
		Accounts:    map[string]uint64{},
		AccountKeys: map[string][]byte{},
		NonceMax:    map[string]uint64{},
		Games:       map[uint64]*Game{},
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalize()
	return &out, nil
}

func (s *State) normalize() {
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.Games == nil {
		s.Games = map[uint64]*Game{}
	}
	if s.NextGameID == 0 {
		s.NextGameID = 1
	}
	for _, g := range s.Games {
		if g != nil && g.Rewards == nil {
			g.Rewards = map[string]uint64{}
		}
	}
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: marshal with stable key ordering by serializing
	// a normalized view.
	//
	// Note: encoding/json does NOT guarantee map key order, so we manually
	// normalize maps into slices.
	type accountKV struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	type accountKeyKV struct {
		Addr   string `json:"addr"`
		PubKey []byte `json:"pubKey"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}
	type rewardKV struct {
		Addr   string `json:"addr"`
		Amount uint64 `json:"amount"`
	}
	type gameKV struct {
		ID               uint64     `json:"id"`
		Beneficiary      string     `json:"beneficiary"`
		Pot              uint64     `json:"pot"`
		Leader           string     `json:"leader"`
		RoundStartHeight int64      `json:"roundStartHeight"`
		RoundLength      int64      `json:"roundLength"`
		Rewards          []rewardKV `json:"rewards"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Addr: k, Balance: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Addr < accounts[j].Addr })

	accountKeys := make([]accountKeyKV, 0, len(s.AccountKeys))
	for k, v := range s.AccountKeys {
		accountKeys = append(accountKeys, accountKeyKV{Addr: k, PubKey: v})
	}
	sort.Slice(accountKeys, func(i, j int) bool { return accountKeys[i].Addr < accountKeys[j].Addr })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	games := make([]gameKV, 0, len(s.Games))
	for id, g := range s.Games {
		rewards := make([]rewardKV, 0, len(g.Rewards))
		for addr, amt := range g.Rewards {
			rewards = append(rewards, rewardKV{Addr: addr, Amount: amt})
		}
		sort.Slice(rewards, func(i, j int) bool { return rewards[i].Addr < rewards[j].Addr })
		games = append(games, gameKV{
			ID:               id,
			Beneficiary:      g.Beneficiary,
			Pot:              g.Pot,
			Leader:           g.Leader,
			RoundStartHeight: g.RoundStartHeight,
			RoundLength:      g.RoundLength,
			Rewards:          rewards,
		})
	}
	sort.Slice(games, func(i, j int) bool { return games[i].ID < games[j].ID })

	normalized := struct {
		Height      int64          `json:"height"`
		NextGameID  uint64         `json:"nextGameId"`
		Accounts    []accountKV    `json:"accounts"`
		AccountKeys []accountKeyKV `json:"accountKeys,omitempty"`
		NonceMax    []nonceKV      `json:"nonceMax,omitempty"`
		Games       []gameKV       `json:"games"`
	}{
		Height:      s.Height,
		NextGameID:  s.NextGameID,
		Accounts:    accounts,
		AccountKeys: accountKeys,
		NonceMax:    nonces,
		Games:       games,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}

// ---- Game ----

func (g *Game) Reward(addr string) uint64 {
	return g.Rewards[addr]
}

func (g *Game) CreditReward(addr string, amount uint64) error {
	bal := g.Rewards[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("reward overflow: have=%d add=%d", bal, amount)
	}
	g.Rewards[addr] = bal + amount
	return nil
}

// Expired reports whether the current round has run past its length. A game
// with no active round is never expired.
func (g *Game) Expired(height int64) bool {
	if g.RoundStartHeight == 0 {
		return false
	}
	deadline := g.RoundStartHeight + g.RoundLength
	if deadline < g.RoundStartHeight {
		// A deadline past the int64 range can never be reached.
		return false
	}
	return height >= deadline
}

// BlocksRemaining is the number of blocks before the round expires: 0 when no
// round is active or the round has already expired.
func (g *Game) BlocksRemaining(height int64) int64 {
	if g.RoundStartHeight == 0 || g.Expired(height) {
		return 0
	}
	return g.RoundStartHeight + g.RoundLength - height
}

// DisplayedPot is the pot a client should show. Once a round has expired but
// no call has settled it yet, the raw pot still holds the full stake; the
// displayed value estimates the post-settlement seed (10%). It is not
// authoritative until settlement actually runs.
func (g *Game) DisplayedPot(height int64) uint64 {
	if g.Expired(height) {
		return g.Pot * 10 / 100
	}
	return g.Pot
}
