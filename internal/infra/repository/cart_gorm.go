package repository

import (
	"app/internal/domain/model"
	repo "app/internal/repository"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

// オーナーのACTIVEカートを取得し、無ければ作成
func (r *CartGormRepository) GetOrCreateActiveByOwner(ctx context.Context, owner model.Owner) (model.Cart, error) {

	var cart model.Cart

	//トランザクションで探す→無ければ作る
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		findErr := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_type = ? AND owner_key = ? AND status = ?", owner.Type, owner.Key, model.CartStatusActive).
			Order("id desc").
			First(&cart).Error

		if findErr == nil {
			return nil
		}

		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}

		// 無ければ作る
		now := time.Now()
		newCart := model.Cart{
			OwnerType:    owner.Type,
			OwnerKey:     owner.Key,
			Status:       model.CartStatusActive,
			LastActiveAt: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := tx.Create(&newCart).Error; err != nil {
			retryErr := tx.
				Where("owner_type = ? AND owner_key = ? AND status = ?", owner.Type, owner.Key, model.CartStatusActive).
				Order("id desc").
				First(&cart).Error
			if retryErr == nil {
				return nil
			}
			return err
		}

		cart = newCart
		return nil
	})

	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

// オーナーのACTIVEカートを取得
func (r *CartGormRepository) FindActiveByOwner(ctx context.Context, owner model.Owner) (model.Cart, error) {
	var cart model.Cart

	err := r.db.WithContext(ctx).
		Where("owner_type = ? AND owner_key = ? AND status = ?", owner.Type, owner.Key, model.CartStatusActive).
		Order("id desc").
		First(&cart).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

// carts.statusを更新
func (r *CartGormRepository) UpdateStatus(ctx context.Context, cartID int64, status model.CartStatus) error {
	res := r.db.WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ?", cartID).
		Update("status", status)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// last_active_atを現在時刻に更新
func (r *CartGormRepository) TouchLastActive(ctx context.Context, cartID int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ?", cartID).
		Update("last_active_at", time.Now())

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// カート本体を削除（マイグレーション元の後始末）
func (r *CartGormRepository) DeleteByID(ctx context.Context, cartID int64) error {
	res := r.db.WithContext(ctx).Delete(&model.Cart{}, cartID)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 期限切れの匿名カートを拾う。
// 予約済み明細を1件も持たないカートは掃除対象にしない。
func (r *CartGormRepository) ListExpiredAnonymous(ctx context.Context, olderThan time.Time, limit int) ([]model.Cart, error) {
	var carts []model.Cart

	err := r.db.WithContext(ctx).
		Where("owner_type = ? AND status = ? AND last_active_at < ?",
			model.OwnerTypeAnonymous, model.CartStatusActive, olderThan).
		Where("EXISTS (SELECT 1 FROM cart_items WHERE cart_items.cart_id = carts.id AND cart_items.stock_reserved = true)").
		Order("last_active_at asc").
		Limit(limit).
		Find(&carts).Error

	if err != nil {
		return []model.Cart{}, err
	}
	return carts, nil
}
