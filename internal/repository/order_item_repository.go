package repository

import (
	"context"

	"app/internal/domain/model"
)

// 注文明細はカートから写したスナップショット。作成後は書き換えない。
type OrderItemRepository interface {
	CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)
}
