package position

import "errors"

var (
	ErrInvalidPrice         = errors.New("unit price exceeds event max price")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrQuantityOverflow     = errors.New("position quantity overflows uint64")
	ErrInsufficientQuantity = errors.New("sell quantity exceeds held quantity")
	ErrPendingQuantity      = errors.New("position has pending quantity")
	ErrEventNotFinished     = errors.New("event has no outcome set yet")
	ErrOutcomeMismatch      = errors.New("event outcome does not match price")
	ErrUnknownPosition      = errors.New("position not found")
)
