package handler

import (
	"github.com/gin-gonic/gin"

	"articleforge-api/internal/application/credit"
	"articleforge-api/internal/interfaces/http/dto"
)

// CreditHandler 积分处理器
type CreditHandler struct {
	ledger *credit.Ledger
}

// NewCreditHandler 创建积分处理器
func NewCreditHandler(ledger *credit.Ledger) *CreditHandler {
	return &CreditHandler{ledger: ledger}
}

// GetBalance 查询余额
func (h *CreditHandler) GetBalance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.BalanceResponse{Credits: balance})
}

// ListTransactions 分页列出积分流水
func (h *CreditHandler) ListTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	pageReq := dto.BindPage(c)
	result, err := h.ledger.Transactions(c.Request.Context(), userID, pageReq.Pagination())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.SuccessWithPage(c, dto.CreditTransactionListResponse{Transactions: result.Items},
		dto.NewPageMeta(result.Page, result.PageSize, result.Total))
}
