// Package http exposes the allocation and settlement operations over REST.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/p2pexchange/internal/allocation/application"
	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
	"github.com/wyfcoding/p2pexchange/pkg/logger"
	"github.com/wyfcoding/p2pexchange/pkg/response"
)

// Handler wires the allocation use cases into gin.
type Handler struct {
	allocator  *application.AllocationService
	settlement *application.SettlementService
}

// NewHandler creates the HTTP handler.
func NewHandler(allocator *application.AllocationService, settlement *application.SettlementService) *Handler {
	return &Handler{allocator: allocator, settlement: settlement}
}

// RegisterRoutes mounts the API.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1")
	{
		api.POST("/transactions/allocate", h.Allocate)
		api.GET("/transactions/:id", h.GetTransaction)
		api.POST("/transactions/:id/confirm", h.Confirm)
		api.POST("/transactions/:id/cancel", h.Cancel)
		api.POST("/transactions/:id/complete", h.Complete)
		api.POST("/transactions/:id/disputes", h.OpenDispute)
		api.POST("/disputes/:id/resolve", h.ResolveDispute)
	}
}

// Allocate binds a requisite to a merchant order. Business outcomes come
// back as 200 with a result code; only infrastructure failures are 5xx.
func (h *Handler) Allocate(c *gin.Context) {
	var req application.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := h.allocator.Allocate(c.Request.Context(), &req)
	if err != nil {
		if result != nil && result.Code == application.CodeInfraError {
			logger.Error(c.Request.Context(), "Allocation failed", "error", err)
			response.ErrorWithStatus(c, http.StatusServiceUnavailable, "allocation temporarily unavailable", gin.H{"code": result.Code})
			return
		}
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	response.Success(c, result)
}

// GetTransaction returns the current state of a transaction.
func (h *Handler) GetTransaction(c *gin.Context) {
	dto, err := h.settlement.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dto)
}

// Confirm marks a transaction as paid.
func (h *Handler) Confirm(c *gin.Context) {
	dto, err := h.settlement.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dto)
}

// CancelRequest carries the cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel aborts a transaction.
func (h *Handler) Cancel(c *gin.Context) {
	var req CancelRequest
	_ = c.ShouldBindJSON(&req)

	dto, err := h.settlement.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dto)
}

// Complete finalizes a settled transaction.
func (h *Handler) Complete(c *gin.Context) {
	dto, err := h.settlement.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dto)
}

// OpenDisputeRequest carries the dispute reason.
type OpenDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OpenDispute contests a transaction.
func (h *Handler) OpenDispute(c *gin.Context) {
	var req OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	disputeID, err := h.settlement.OpenDispute(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"dispute_id": disputeID})
}

// ResolveDisputeRequest names the winning side.
type ResolveDisputeRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=client trader"`
}

// ResolveDispute decides an open dispute.
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	outcome := domain.DisputeResolvedClient
	if req.Outcome == "trader" {
		outcome = domain.DisputeResolvedTrader
	}
	if err := h.settlement.ResolveDispute(c.Request.Context(), c.Param("id"), outcome); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"dispute_id": c.Param("id"), "outcome": string(outcome)})
}

// writeError maps domain errors to HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrDisputeNotFound),
		errors.Is(err, domain.ErrTraderNotFound),
		errors.Is(err, domain.ErrMerchantNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, domain.ErrTransactionFinal),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDisputeAlreadyOpen),
		errors.Is(err, domain.ErrTransactionDisputed),
		errors.Is(err, domain.ErrDisputeResolved):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), nil)
	default:
		logger.Error(c.Request.Context(), "Request failed", "error", err)
		response.Error(c, err.Error())
	}
}
