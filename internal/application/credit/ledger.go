// Package credit 提供积分计费能力
package credit

import (
	"context"
	"fmt"
	"sync"

	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/domain/repository"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
)

// Config 计费策略
type Config struct {
	// RefundOnFailure 操作失败时是否退回已扣积分；默认 false，即先扣费后执行且失败不退
	RefundOnFailure bool
	// SignupBonus 首次访问时赠送的积分
	SignupBonus int
}

// Receipt 一次成功扣费的凭据
type Receipt struct {
	UserID       string
	Tool         string
	Cost         int
	BalanceAfter int
}

// Ledger 积分账本
//
// 余额检查与扣减由仓储的条件 UPDATE 一步完成，扣减与流水写入在同一事务中提交。
type Ledger struct {
	tx       repository.Transactor
	profiles repository.ProfileRepository
	txs      repository.CreditTransactionRepository
	cfg      Config

	known sync.Map // userID -> struct{}，已确认存在资料的用户
}

// NewLedger 创建积分账本
func NewLedger(tx repository.Transactor, profiles repository.ProfileRepository, txs repository.CreditTransactionRepository, cfg Config) *Ledger {
	return &Ledger{tx: tx, profiles: profiles, txs: txs, cfg: cfg}
}

// EnsureAccount 确保用户资料存在；首次创建时发放注册积分
func (l *Ledger) EnsureAccount(ctx context.Context, userID, email string) error {
	if _, ok := l.known.Load(userID); ok {
		return nil
	}

	err := l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		created, err := l.profiles.EnsureCreated(ctx, entity.NewProfile(userID, email))
		if err != nil {
			return err
		}
		if !created || l.cfg.SignupBonus <= 0 {
			return nil
		}
		balance, err := l.profiles.Credit(ctx, userID, l.cfg.SignupBonus)
		if err != nil {
			return err
		}
		return l.txs.Append(ctx, entity.NewCreditTransaction(
			userID, l.cfg.SignupBonus, entity.TransactionTypeBonus, "signup", "welcome bonus", balance,
		))
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to initialize account")
	}
	l.known.Store(userID, struct{}{})
	return nil
}

// Balance 查询余额
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	profile, err := l.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load balance")
	}
	if profile == nil {
		return 0, nil
	}
	return profile.Credits, nil
}

// Precheck 开流前的快速余额检查，仅用于提前拒绝；真正的扣减仍以 Charge 为准
func (l *Ledger) Precheck(ctx context.Context, userID string, cost int) error {
	if cost <= 0 {
		return nil
	}
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if balance < cost {
		return insufficient(cost, balance)
	}
	return nil
}

// Transactions 分页查询流水
func (l *Ledger) Transactions(ctx context.Context, userID string, pagination repository.Pagination) (*repository.PagedResult[*entity.CreditTransaction], error) {
	page, err := l.txs.ListByUser(ctx, userID, pagination)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list transactions")
	}
	return page, nil
}

// Grant 增加积分（奖励或人工调整）
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, txType entity.TransactionType, description string) (int, error) {
	if amount <= 0 {
		return 0, apperrors.ErrInvalidInput.WithDetail("amount must be positive")
	}
	var balance int
	err := l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		balance, err = l.profiles.Credit(ctx, userID, amount)
		if err != nil {
			return err
		}
		return l.txs.Append(ctx, entity.NewCreditTransaction(userID, amount, txType, "admin", description, balance))
	})
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to grant credits")
	}
	return balance, nil
}

// Charge 原子扣费并写入 usage 流水；余额不足时不做任何修改
func (l *Ledger) Charge(ctx context.Context, userID string, cost int, tool, description string) (*Receipt, error) {
	receipt := &Receipt{UserID: userID, Tool: tool, Cost: cost}
	if cost <= 0 {
		return receipt, nil
	}

	denied := false
	err := l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		balance, ok, err := l.profiles.TryDebit(ctx, userID, cost)
		if err != nil {
			return err
		}
		if !ok {
			denied = true
			return nil
		}
		receipt.BalanceAfter = balance
		return l.txs.Append(ctx, entity.NewCreditTransaction(
			userID, -cost, entity.TransactionTypeUsage, tool, description, balance,
		))
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to charge credits")
	}
	if denied {
		metrics.CreditDenialsTotal.WithLabelValues(tool).Inc()
		balance, _ := l.Balance(ctx, userID)
		return nil, insufficient(cost, balance)
	}

	metrics.CreditsDebitedTotal.WithLabelValues(tool).Add(float64(cost))
	logger.Debug(ctx, "credits charged", "tool", tool, "cost", cost, "balance", receipt.BalanceAfter)
	return receipt, nil
}

// Refund 退回一次扣费，写入 refund 流水
func (l *Ledger) Refund(ctx context.Context, receipt *Receipt, reason string) error {
	if receipt == nil || receipt.Cost <= 0 {
		return nil
	}
	// 调用方的 ctx 可能已被取消，退款需要独立完成
	ctx = context.WithoutCancel(ctx)
	err := l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		balance, err := l.profiles.Credit(ctx, receipt.UserID, receipt.Cost)
		if err != nil {
			return err
		}
		return l.txs.Append(ctx, entity.NewCreditTransaction(
			receipt.UserID, receipt.Cost, entity.TransactionTypeRefund, receipt.Tool, reason, balance,
		))
	})
	if err != nil {
		return fmt.Errorf("refund %d credits: %w", receipt.Cost, err)
	}
	metrics.CreditRefundsTotal.WithLabelValues(receipt.Tool).Inc()
	return nil
}

// Run 扣费后执行 op；余额不足时 op 不会被调用
func (l *Ledger) Run(ctx context.Context, userID string, cost int, tool, description string, op func(ctx context.Context) error) error {
	receipt, err := l.Charge(ctx, userID, cost, tool, description)
	if err != nil {
		return err
	}

	opErr := op(ctx)
	if opErr != nil && l.cfg.RefundOnFailure {
		if err := l.Refund(ctx, receipt, "refund: "+description); err != nil {
			logger.Error(ctx, "credit refund failed", err, "tool", tool, "cost", cost)
		}
	}
	return opErr
}

// ChargeAndRun 扣费后执行 op 并返回其结果
func ChargeAndRun[T any](ctx context.Context, l *Ledger, userID string, cost int, tool, description string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.Run(ctx, userID, cost, tool, description, func(ctx context.Context) error {
		var err error
		out, err = op(ctx)
		return err
	})
	return out, err
}

func insufficient(cost, balance int) error {
	return apperrors.ErrInsufficientCredits.WithDetail(
		fmt.Sprintf("this operation costs %d credits, current balance is %d", cost, balance),
	)
}
