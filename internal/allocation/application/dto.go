package application

import (
	"time"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

// ResultCode tells the caller why an allocation request ended the way it did.
type ResultCode string

const (
	// CodeAllocated means a requisite was bound and collateral frozen.
	CodeAllocated ResultCode = "ALLOCATED"
	// CodeNoCandidate means the pool for the method type was empty.
	CodeNoCandidate ResultCode = "NO_CANDIDATE"
	// CodeNoRequisite means candidates existed but none passed the filters.
	CodeNoRequisite ResultCode = "NO_REQUISITE"
	// CodeInsufficientCollateral means at least one candidate failed only on
	// trader collateral and none passed.
	CodeInsufficientCollateral ResultCode = "INSUFFICIENT_COLLATERAL"
	// CodeDuplicateOrder means the (merchant, order) pair was already used.
	CodeDuplicateOrder ResultCode = "DUPLICATE_ORDER"
	// CodeInfraError means a storage or rate provider failure, retryable.
	CodeInfraError ResultCode = "INFRA_ERROR"
)

// AllocateRequest asks for a payment requisite for a merchant order.
// MarketRate is optional; when empty the configured rate provider is asked.
type AllocateRequest struct {
	MerchantID string `json:"merchant_id"`
	OrderID    string `json:"order_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	MethodType string `json:"method_type"`
	MarketRate string `json:"market_rate,omitempty"`
}

// TransactionDTO is the external view of a transaction.
type TransactionDTO struct {
	TransactionID string `json:"transaction_id"`
	MerchantID    string `json:"merchant_id"`
	OrderID       string `json:"order_id"`
	TraderID      string `json:"trader_id"`
	RequisiteID   string `json:"requisite_id"`
	MethodType    string `json:"method_type"`
	BankName      string `json:"bank_name,omitempty"`
	CardNumber    string `json:"card_number,omitempty"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	MarketRate    string `json:"market_rate"`
	AdjustedRate  string `json:"adjusted_rate"`
	FrozenAmount  string `json:"frozen_amount"`
	Commission    string `json:"commission"`
	TotalRequired string `json:"total_required"`
	Status        string `json:"status"`
	ExpiresAt     int64  `json:"expires_at"`
	CreatedAt     int64  `json:"created_at"`
}

// AllocateResult is the outcome of an allocation request. Transaction is set
// for ALLOCATED and DUPLICATE_ORDER results.
type AllocateResult struct {
	Code        ResultCode      `json:"code"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
}

func toTransactionDTO(tx *domain.Transaction, req *domain.Requisite) *TransactionDTO {
	dto := &TransactionDTO{
		TransactionID: tx.TransactionID,
		MerchantID:    tx.MerchantID,
		OrderID:       tx.OrderID,
		TraderID:      tx.TraderID,
		RequisiteID:   tx.RequisiteID,
		MethodType:    string(tx.MethodType),
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		MarketRate:    tx.MarketRate.String(),
		AdjustedRate:  tx.AdjustedRate.String(),
		FrozenAmount:  tx.FrozenAmount.String(),
		Commission:    tx.Commission.String(),
		TotalRequired: tx.TotalRequired().String(),
		Status:        string(tx.Status),
		ExpiresAt:     tx.ExpiresAt.Unix(),
		CreatedAt:     tx.CreatedAt.Unix(),
	}
	if req != nil {
		dto.BankName = req.BankName
		dto.CardNumber = req.CardNumber
	}
	return dto
}

// dayStart returns local midnight for the limit windows.
func dayStart(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// monthStart returns the first of the month for the limit windows.
func monthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}
