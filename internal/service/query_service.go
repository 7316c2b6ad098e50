package service

import (
	"context"
	"errors"

	"pimarket/internal/model"
	"pimarket/internal/repository"

	"gorm.io/gorm"
)

// TransactionQueryService 交易只读查询，只返回调用者作为买家或卖家参与的交易
type TransactionQueryService struct {
	transactionRepo *repository.TransactionRepository
}

func NewTransactionQueryService(db *gorm.DB) *TransactionQueryService {
	return &TransactionQueryService{
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// ListForUser status 为 nil 时不过滤状态，按创建时间倒序
func (s *TransactionQueryService) ListForUser(ctx context.Context, userID int64, status *model.TransactionStatus) ([]*model.Transaction, error) {
	return s.transactionRepo.ListByParticipant(ctx, userID, status)
}

func (s *TransactionQueryService) GetForUser(ctx context.Context, userID, transactionID int64) (*model.Transaction, error) {
	trans, err := s.transactionRepo.GetByID(ctx, nil, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !trans.IsParticipant(userID) {
		return nil, ErrForbidden
	}
	return trans, nil
}
