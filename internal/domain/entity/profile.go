// Package entity 定义领域实体
package entity

import (
	"time"
)

// Profile 用户资料，credits 为积分余额的冗余计数
type Profile struct {
	UserID      string    `json:"user_id" gorm:"primaryKey"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Credits     int       `json:"credits" gorm:"not null;default:0;check:credits >= 0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewProfile 创建用户资料
func NewProfile(userID, email string) *Profile {
	now := time.Now()
	return &Profile{
		UserID:    userID,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransactionType 积分流水类型
type TransactionType string

const (
	TransactionTypeUsage      TransactionType = "usage"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeBonus      TransactionType = "bonus"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// CreditTransaction 积分流水，只追加不修改
type CreditTransaction struct {
	ID           string          `json:"id" gorm:"primaryKey;type:uuid"`
	UserID       string          `json:"user_id" gorm:"not null;index:idx_credit_tx_user_created,priority:1"`
	Amount       int             `json:"amount"` // 扣减为负，充值/奖励为正
	Type         TransactionType `json:"type" gorm:"not null"`
	ToolUsed     string          `json:"tool_used"`
	Description  string          `json:"description"`
	BalanceAfter int             `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at" gorm:"index:idx_credit_tx_user_created,priority:2"`
}

// NewCreditTransaction 创建积分流水
func NewCreditTransaction(userID string, amount int, txType TransactionType, toolUsed, description string, balanceAfter int) *CreditTransaction {
	return &CreditTransaction{
		UserID:       userID,
		Amount:       amount,
		Type:         txType,
		ToolUsed:     toolUsed,
		Description:  description,
		BalanceAfter: balanceAfter,
		CreatedAt:    time.Now(),
	}
}
