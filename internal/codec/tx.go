package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the v0 transaction container.
//
// CometBFT transactions are opaque bytes. For v0 localnet we use JSON-encoded
// txs to move fast; this is NOT the final protocol encoding.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// v0 tx auth:
	// - Nonce: included in the signed message for replay protection (must increase per signer).
	// - Signer: logical signer id (the account acting in the tx).
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	//
	// Note: This is still a scaffold; it is NOT the final protocol encoding.
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth (v0) ----

// v0: account pubkey registration for tx authentication.
type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

// ---- Hill ----

type HillCreateGameTx struct {
	Creator string `json:"creator"`
	// Beneficiary defaults to the creator when empty.
	Beneficiary string `json:"beneficiary,omitempty"`
	RoundLength int64  `json:"roundLength"`
	// Deposit seeds the pot; debited from the creator's bank balance.
	Deposit uint64 `json:"deposit"`
}

type HillBidTx struct {
	Player string `json:"player"`
	GameID uint64 `json:"gameId"`
	// Amount is debited in full from the player's bank balance; anything
	// beyond 2x the current pot is refunded in the same tx.
	Amount uint64 `json:"amount"`
}

type HillTopUpTx struct {
	Caller string `json:"caller"`
	GameID uint64 `json:"gameId"`
	Amount uint64 `json:"amount"`
}

type HillWithdrawTx struct {
	Caller string `json:"caller"`
	GameID uint64 `json:"gameId"`
}

type HillTransferBeneficiaryTx struct {
	GameID uint64 `json:"gameId"`
	From   string `json:"from"`
	To     string `json:"to"`
}
