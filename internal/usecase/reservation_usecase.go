package usecase

import (
	"context"
	"errors"
	"fmt"

	"app/internal/domain/model"
	"app/internal/metrics"
	repo "app/internal/repository"

	"github.com/rs/zerolog"
)

// InsufficientStockError は「要求数が販売可能数を超えた」失敗。
// 画面にそのまま出せるよう要求数と残数を持つ（黙って切り詰めない）。
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ReservationUsecase は台帳の上に予約の業務ルールを乗せる。
// reserve / release / commit の3動詞だけを外に見せる。
type ReservationUsecase struct {
	stockRepo repo.StockRepository
	logger    zerolog.Logger
}

func NewReservationUsecase(stockRepo repo.StockRepository, logger zerolog.Logger) *ReservationUsecase {
	return &ReservationUsecase{
		stockRepo: stockRepo,
		logger:    logger,
	}
}

// Reserve は販売可能数が足りるときだけ予約を積む。
// 可否判定は台帳側の条件付きUPDATEに任せるので、読み→書きの競合窓は無い。
// 失敗時の残数は表示用にあとから読むだけで、判定には使わない。
func (u *ReservationUsecase) Reserve(ctx context.Context, productID int64, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("invalid quantity: %d", qty)
	}

	_, err := u.stockRepo.IncreaseReserved(ctx, productID, qty)
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrStockExhausted) {
		metrics.ReservationRejections.Inc()

		available, rerr := u.stockRepo.Available(ctx, productID)
		if rerr != nil {
			available = 0
		}
		return &InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: available,
		}
	}
	return err
}

// Release は予約を解放する。掃除系の経路から呼ばれるため、
// 商品が消えていても・予約残が合わなくても呼び出し元を失敗させない。
// その代わり異常は必ずログとカウンタに残す。
func (u *ReservationUsecase) Release(ctx context.Context, productID int64, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("invalid quantity: %d", qty)
	}

	clamped, err := u.stockRepo.DecreaseReserved(ctx, productID, qty)
	if errors.Is(err, repo.ErrNotFound) {
		metrics.ReleaseAnomalies.Inc()
		u.logger.Warn().
			Int64("product_id", productID).
			Int64("quantity", qty).
			Msg("release for missing product, skipped")
		return nil
	}
	if err != nil {
		return err
	}
	if clamped {
		metrics.ReleaseAnomalies.Inc()
		u.logger.Warn().
			Int64("product_id", productID).
			Int64("quantity", qty).
			Msg("release clamped at zero, reserved count drifted")
	}
	return nil
}

// Commit は予約を売上へ確定する。注文の決済確認につき明細ごとに1回だけ呼ぶ。
// 呼び出し側が注文単位の冪等ガード（stock_committed）を持つ前提。
// ErrUpdateFailed は一時的なものとして1回だけリトライする。
func (u *ReservationUsecase) Commit(ctx context.Context, productID int64, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("invalid quantity: %d", qty)
	}

	err := u.stockRepo.CommitSale(ctx, productID, qty)
	if errors.Is(err, repo.ErrUpdateFailed) {
		u.logger.Warn().
			Int64("product_id", productID).
			Int64("quantity", qty).
			Msg("commit did not apply, retrying once")
		err = u.stockRepo.CommitSale(ctx, productID, qty)
	}
	return err
}

// ReadAvailable は販売可能数（stock - reserved_stock）
func (u *ReservationUsecase) ReadAvailable(ctx context.Context, productID int64) (int64, error) {
	return u.stockRepo.Available(ctx, productID)
}

// ReadAvailableBulk はダッシュボード向けの一括読み取り
func (u *ReservationUsecase) ReadAvailableBulk(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	return u.stockRepo.AvailableBulk(ctx, productIDs)
}

// ReadLowStock は販売可能数が閾値を下回った商品の一覧（発注の目安用）
func (u *ReservationUsecase) ReadLowStock(ctx context.Context, limit int) ([]model.Product, error) {
	return u.stockRepo.ListLowStock(ctx, limit)
}
