package dto

import (
	"articleforge-api/internal/domain/entity"
)

// BalanceResponse 积分余额
type BalanceResponse struct {
	Credits int `json:"credits"`
}

// CreditTransactionListResponse 积分流水列表
type CreditTransactionListResponse struct {
	Transactions []*entity.CreditTransaction `json:"transactions"`
}
