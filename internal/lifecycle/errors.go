package lifecycle

import "errors"

var (
	ErrTradeNotFound          = errors.New("trade not found")
	ErrTokenMismatch          = errors.New("execution token does not match")
	ErrTokenConsumed          = errors.New("execution token already used")
	ErrStorage                = errors.New("trade storage failed")
	ErrInvalidInput           = errors.New("invalid trade input")
	ErrNotExecuted            = errors.New("trade has no linked execution")
	ErrOutcomeAlreadyReported = errors.New("trade outcome already reported")
)
