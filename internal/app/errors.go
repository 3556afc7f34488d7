package app

import "errors"

// Game rule errors. Handlers wrap these with context; deliverTx surfaces them
// verbatim in ExecTxResult.Log with a nonzero code and no state change.
var (
	ErrInsufficientSeed   = errors.New("initial deposit below minimum seed")
	ErrSelfEscalation     = errors.New("caller already leads the round")
	ErrInsufficientBid    = errors.New("bid below twice the pot")
	ErrRoundAlreadyActive = errors.New("round already active")
	ErrNothingOwed        = errors.New("nothing owed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTransferFailed     = errors.New("value transfer failed")
)
