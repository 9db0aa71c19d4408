package market

import "errors"

var (
	ErrInvalidCommissionRate  = errors.New("commission rate exceeds 100")
	ErrDuplicateEvent         = errors.New("event already exists")
	ErrUnknownEvent           = errors.New("event not found")
	ErrInvalidOutcome         = errors.New("outcome value not allowed")
	ErrOutcomeAlreadyResolved = errors.New("outcome already resolved")
	ErrOpenPositions          = errors.New("event has open positions")
	ErrUnauthorized           = errors.New("signer is not the operator")
)
