package repository

import (
	"context"
	"errors"
	"time"

	"pimarket/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("交易不存在")
	ErrTransitionInvalid   = errors.New("交易状态流转不合法")
	// ErrStatusConflict 条件更新没有命中：交易已经不在期望的状态
	ErrStatusConflict = errors.New("交易状态已变更")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	return r.conn(tx).WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// TransitionStatus 条件更新交易状态（CAS）
//
// 【关键点】WHERE 里带上 status = from，只有当前状态仍是 from 时才会更新。
// 两条完成路径（后台结算 / Pi 回调）并发调用时，只有一个能命中，
// 另一个拿到 ErrStatusConflict。状态判断在写入的这一刻由数据库完成，
// 而不是依赖之前读到的值。
func (r *TransactionRepository) TransitionStatus(ctx context.Context, tx *gorm.DB, id int64, from, to model.TransactionStatus, fields map[string]interface{}) error {
	if !model.CanTransitionTo(from, to) {
		return ErrTransitionInvalid
	}

	updates := map[string]interface{}{
		"status":  to,
		"version": gorm.Expr("version + 1"),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}

	return nil
}

// ListByParticipant 查询用户作为买家或卖家的交易，按创建时间倒序
func (r *TransactionRepository) ListByParticipant(ctx context.Context, userID int64, status *model.TransactionStatus) ([]*model.Transaction, error) {
	var transactions []*model.Transaction

	query := r.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", userID, userID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Find(&transactions).Error

	return transactions, err
}

// GetPendingBefore 查询在 before 之前创建、仍处于 PENDING 的交易
func (r *TransactionRepository) GetPendingBefore(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.TransactionStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
