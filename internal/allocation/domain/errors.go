package domain

import "errors"

var (
	ErrTraderNotFound         = errors.New("trader not found")
	ErrRequisiteNotFound      = errors.New("requisite not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrMerchantNotFound       = errors.New("merchant not found")
	ErrDisputeNotFound        = errors.New("dispute not found")
	ErrInsufficientCollateral = errors.New("insufficient trader collateral")
	ErrDuplicateOrder         = errors.New("transaction with this order id already exists")
	ErrTransactionFinal       = errors.New("transaction is in a terminal status")
	ErrInvalidTransition      = errors.New("invalid transaction status transition")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidRate            = errors.New("rate must be positive")
	ErrDisputeAlreadyOpen     = errors.New("transaction already has an open dispute")
	ErrTransactionDisputed    = errors.New("transaction is under dispute")
	ErrDisputeResolved        = errors.New("dispute is already resolved")
	ErrNegativeFrozen         = errors.New("frozen amount may not go negative")
)
