package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"

	"hillchain/internal/codec"
	"hillchain/internal/state"
)

const (
	AppVersion uint64 = 1
)

type HillApp struct {
	*abci.BaseApplication

	home   string
	logger log.Logger

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

func New(home string, logger log.Logger) (*HillApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &HillApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		logger:          logger,
		st:              st,
		lastHash:        st.AppHash(),
	}
	a.logger.Info("loaded app state", "height", st.Height, "games", len(st.Games))
	return a, nil
}

func (a *HillApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "hillchain (v0)",
		Version:          "v0",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *HillApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// v0: only structural validation; auth runs at delivery.
	return &abci.CheckTxResponse{Code: 0}, nil
}

func (a *HillApp) InitChain(_ context.Context, _ *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	// v0: no special genesis handling.
	return &abci.InitChainResponse{}, nil
}

func (a *HillApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()
	a.logger.Debug("finalized block", "height", req.Height, "txs", len(req.Txs))

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *HillApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	// Persist after each block for devnet durability.
	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		a.logger.Error("persist app state", "err", err)
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *HillApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Paths:
	// - /account/<addr>
	// - /games
	// - /game/<id>
	// - /game/<id>/pot | remaining | leader | reward/<addr>
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/games":
		ids := make([]uint64, 0, len(a.st.Games))
		for id := range a.st.Games {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		b, _ := json.Marshal(ids)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		bal := a.st.Balance(addr)
		b, _ := json.Marshal(map[string]any{"addr": addr, "balance": bal})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/game/"):
		rest := strings.TrimPrefix(path, "/game/")
		parts := strings.SplitN(rest, "/", 2)
		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return &abci.QueryResponse{Code: 1, Log: "invalid game id", Height: a.st.Height}, nil
		}
		g, ok := a.st.Games[id]
		if !ok {
			return &abci.QueryResponse{Code: 1, Log: "game not found", Height: a.st.Height}, nil
		}
		if len(parts) == 1 {
			b, _ := json.Marshal(g)
			return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
		}
		return a.queryGameView(g, parts[1])
	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

func (a *HillApp) queryGameView(g *state.Game, sub string) (*abci.QueryResponse, error) {
	height := a.st.Height
	switch {
	case sub == "pot":
		// An estimate once the round expired: settlement has not run yet.
		b, _ := json.Marshal(map[string]any{
			"pot":     g.DisplayedPot(height),
			"settled": !g.Expired(height),
		})
		return &abci.QueryResponse{Code: 0, Value: b, Height: height}, nil
	case sub == "remaining":
		b, _ := json.Marshal(map[string]any{"remaining": g.BlocksRemaining(height)})
		return &abci.QueryResponse{Code: 0, Value: b, Height: height}, nil
	case sub == "leader":
		b, _ := json.Marshal(map[string]any{"leader": g.Leader})
		return &abci.QueryResponse{Code: 0, Value: b, Height: height}, nil
	case strings.HasPrefix(sub, "reward/"):
		addr := strings.TrimPrefix(sub, "reward/")
		b, _ := json.Marshal(map[string]any{"addr": addr, "reward": g.Reward(addr)})
		return &abci.QueryResponse{Code: 0, Value: b, Height: height}, nil
	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown game view", Height: height}, nil
	}
}

// deliverTx stages each tx against a deep copy of state and swaps the copy in
// only on success. A settlement that ran inside a tx whose later checks fail
// is rolled back with everything else; events surface only from committed txs.
func (a *HillApp) deliverTx(txBytes []byte, height int64) *abci.ExecTxResult {
	staged, err := a.st.Clone()
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}
	res := execTx(staged, txBytes, height)
	if res.Code == 0 {
		a.st = staged
	}
	return res
}

func execTx(st *state.State, txBytes []byte, height int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	switch env.Type {
	case "bank/mint":
		// Unsigned faucet for localnet.
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad bank/mint value"}
		}
		if msg.To == "" || msg.Amount == 0 {
			return &abci.ExecTxResult{Code: 1, Log: "missing to/amount"}
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		return okEvent("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad bank/send value"}
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return &abci.ExecTxResult{Code: 1, Log: "missing from/to/amount"}
		}
		if err := authAndConsume(st, env, msg.From); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		if err := st.Debit(msg.From, msg.Amount); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad auth/register_account value"}
		}
		if err := requireRegisterAccountAuth(env, msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		if err := consumeNonce(st, env); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		return okEvent("AccountRegistered", map[string]string{
			"account": msg.Account,
		})

	case "hill/create_game":
		var msg codec.HillCreateGameTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad hill/create_game value"}
		}
		if err := authAndConsume(st, env, msg.Creator); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		res, err := hillCreateGame(st, msg)
		if err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		return res

	case "hill/bid":
		var msg codec.HillBidTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad hill/bid value"}
		}
		if err := authAndConsume(st, env, msg.Player); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		res, err := hillBid(st, msg, height)
		if err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		return res

	case "hill/top_up":
		var msg codec.HillTopUpTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad hill/top_up value"}
		}
		if err := authAndConsume(st, env, msg.Caller); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		res, err := hillTopUp(st, msg, height)
		if err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		return res

	case "hill/withdraw":
		var msg codec.HillWithdrawTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad hill/withdraw value"}
		}
		if err := authAndConsume(st, env, msg.Caller); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		res, err := hillWithdraw(st, msg, height)
		if err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		return res

	case "hill/transfer_beneficiary":
		var msg codec.HillTransferBeneficiaryTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad hill/transfer_beneficiary value"}
		}
		if err := authAndConsume(st, env, msg.From); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		res, err := hillTransferBeneficiary(st, msg)
		if err != nil {
			return &abci.ExecTxResult{Code: 1, Log: err.Error()}
		}
		return res

	default:
		return &abci.ExecTxResult{Code: 1, Log: "unknown tx type: " + env.Type}
	}
}

func authAndConsume(st *state.State, env codec.TxEnvelope, account string) error {
	if err := requireAccountAuth(st, env, account); err != nil {
		return err
	}
	return consumeNonce(st, env)
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{ev},
	}
}
