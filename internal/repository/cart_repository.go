package repository

import (
	"context"
	"time"

	"app/internal/domain/model"
)

type CartRepository interface {
	GetOrCreateActiveByOwner(ctx context.Context, owner model.Owner) (model.Cart, error)
	FindActiveByOwner(ctx context.Context, owner model.Owner) (model.Cart, error)
	UpdateStatus(ctx context.Context, cartID int64, status model.CartStatus) error
	// last_active_at を更新（期限切れ判定の起点）
	TouchLastActive(ctx context.Context, cartID int64) error
	DeleteByID(ctx context.Context, cartID int64) error
	// 匿名かつ last_active_at が olderThan より古く、予約済み明細を1件以上持つACTIVEカート
	ListExpiredAnonymous(ctx context.Context, olderThan time.Time, limit int) ([]model.Cart, error)
}
