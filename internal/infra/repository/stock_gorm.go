package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
)

type StockGormRepository struct {
	db *gorm.DB
}

func NewStockGormRepository(db *gorm.DB) *StockGormRepository {
	return &StockGormRepository{db: db}
}

// 予約加算。reserved_stock + qty <= stock のときだけ1回のUPDATEで加算する。
// 先読みしてから書くのではなく、条件をUPDATE自体に持たせて競合時の売り越しを塞ぐ。
func (r *StockGormRepository) IncreaseReserved(ctx context.Context, productID int64, qty int64) (model.Product, error) {
	if qty <= 0 {
		return model.Product{}, errors.New("invalid quantity")
	}

	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND reserved_stock + ? <= stock", productID, qty).
		Update("reserved_stock", gorm.Expr("reserved_stock + ?", qty))

	if res.Error != nil {
		return model.Product{}, res.Error
	}
	if res.RowsAffected == 0 {
		// 商品が無いのか在庫不足なのかをここで切り分ける
		var p model.Product
		err := r.db.WithContext(ctx).Where("id = ?", productID).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Product{}, repo.ErrNotFound
		}
		if err != nil {
			return model.Product{}, err
		}
		return model.Product{}, repo.ErrStockExhausted
	}

	var p model.Product
	if err := r.db.WithContext(ctx).Where("id = ?", productID).First(&p).Error; err != nil {
		return model.Product{}, err
	}
	return p, nil
}

// 予約解放。reserved_stock >= qty のときは普通に減算、
// 足りないときは 0 で止めて clamped=true を返す（マイナスは作らない）。
func (r *StockGormRepository) DecreaseReserved(ctx context.Context, productID int64, qty int64) (bool, error) {
	if qty <= 0 {
		return false, errors.New("invalid quantity")
	}

	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND reserved_stock >= ?", productID, qty).
		Update("reserved_stock", gorm.Expr("reserved_stock - ?", qty))

	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return false, nil
	}

	// 当たらなかった＝商品が無いか、予約残が qty 未満
	clampRes := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", productID).
		Update("reserved_stock", gorm.Expr("GREATEST(reserved_stock - ?, 0)", qty))

	if clampRes.Error != nil {
		return false, clampRes.Error
	}
	if clampRes.RowsAffected == 0 {
		return false, repo.ErrNotFound
	}
	return true, nil
}

// 販売確定。予約の減算・所有在庫の減算・累計販売数の加算を1回のUPDATEで行う。
// stock を恒久的に減らすのはこの操作だけ。
func (r *StockGormRepository) CommitSale(ctx context.Context, productID int64, qty int64) error {
	if qty <= 0 {
		return errors.New("invalid quantity")
	}

	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND stock >= ? AND reserved_stock >= ?", productID, qty, qty).
		Updates(map[string]interface{}{
			"reserved_stock": gorm.Expr("reserved_stock - ?", qty),
			"stock":          gorm.Expr("stock - ?", qty),
			"total_sold":     gorm.Expr("total_sold + ?", qty),
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var p model.Product
		err := r.db.WithContext(ctx).Where("id = ?", productID).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return repo.ErrNotFound
		}
		if err != nil {
			return err
		}
		return repo.ErrUpdateFailed
	}
	return nil
}

func (r *StockGormRepository) Available(ctx context.Context, productID int64) (int64, error) {
	var p model.Product
	err := r.db.WithContext(ctx).Where("id = ?", productID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, repo.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return p.AvailableStock(), nil
}

func (r *StockGormRepository) AvailableBulk(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	if len(productIDs) == 0 {
		return map[int64]int64{}, nil
	}

	var products []model.Product
	if err := r.db.WithContext(ctx).
		Where("id IN ?", productIDs).
		Find(&products).Error; err != nil {
		return nil, err
	}

	out := make(map[int64]int64, len(products))
	for _, p := range products {
		out[p.ID] = p.AvailableStock()
	}
	return out, nil
}

func (r *StockGormRepository) ListLowStock(ctx context.Context, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 50
	}

	var products []model.Product
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND stock - reserved_stock <= low_stock_threshold", true).
		Order("stock - reserved_stock ASC").
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}
