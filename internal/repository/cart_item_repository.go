package repository

import (
	"context"

	"app/internal/domain/model"
)

type CartItemRepository interface {
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
	FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error)
	// 同一商品・同一booking種別の既存明細を探す（マージ加算用）
	FindByCartProduct(ctx context.Context, cartID int64, productID int64, isBooking bool) (model.CartItem, error)
	Create(ctx context.Context, item model.CartItem) (model.CartItem, error)
	UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error
	DeleteByID(ctx context.Context, cartItemID int64) error
	DeleteByCartID(ctx context.Context, cartID int64) error
	// マイグレーション先カートへ付け替え（予約は明細に付いて移動する）
	MoveToCart(ctx context.Context, cartItemID int64, toCartID int64) error
}
