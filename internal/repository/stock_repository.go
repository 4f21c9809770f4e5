package repository

import (
	"app/internal/domain/model"
	"context"
	"errors"
)

// 条件付き更新が「在庫不足」で1行も当たらなかった
var ErrStockExhausted = errors.New("stock exhausted")

// 更新が適用されなかった（一時的なものとして1回だけリトライしてよい）
var ErrUpdateFailed = errors.New("update not applied")

// 在庫台帳。stock / reserved_stock のカウンタ操作はすべて
// 1回の条件付きUPDATEで行い、read-modify-write は呼び出し側に見せない。
type StockRepository interface {
	// reserved_stock + qty <= stock のときだけ加算。
	// 足りなければ ErrStockExhausted、商品が無ければ ErrNotFound。
	// 成功時は更新後のレコードを返す。
	IncreaseReserved(ctx context.Context, productID int64, qty int64) (model.Product, error)

	// 予約の解放。reserved_stock >= qty なら減算。
	// 足りない場合は 0 で止めて clamped=true を返す（マイナスにはしない）。
	DecreaseReserved(ctx context.Context, productID int64, qty int64) (clamped bool, err error)

	// 販売確定。reserved_stock と stock を qty 減らし total_sold を qty 増やす、を1回のUPDATEで。
	CommitSale(ctx context.Context, productID int64, qty int64) error

	// stock - reserved_stock
	Available(ctx context.Context, productID int64) (int64, error)

	// 管理画面向けの一括読み取り
	AvailableBulk(ctx context.Context, productIDs []int64) (map[int64]int64, error)

	// 販売可能数が low_stock_threshold 以下の有効商品
	ListLowStock(ctx context.Context, limit int) ([]model.Product, error)
}
