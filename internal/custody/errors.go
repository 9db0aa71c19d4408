package custody

import "errors"

var (
	ErrAuthorityMismatch = errors.New("authority does not control source bucket")
	ErrInsufficientFunds = errors.New("insufficient bucket balance")
	ErrEmptyBatch        = errors.New("batch has no journals")
)
