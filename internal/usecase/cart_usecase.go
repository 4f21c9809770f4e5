package usecase

import (
	"context"
	"errors"
	"fmt"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/rs/zerolog"
)

// CartUsecase はカート明細と台帳の予約を常に対で動かす。
// 予約できなければ明細は増やさない、明細が消えるなら予約も返す。
type CartUsecase struct {
	cartRepo     repo.CartRepository
	cartItemRepo repo.CartItemRepository
	productRepo  repo.ProductRepository
	reservation  *ReservationUsecase
	logger       zerolog.Logger
}

func NewCartUsecase(
	cartRepo repo.CartRepository,
	cartItemRepo repo.CartItemRepository,
	productRepo repo.ProductRepository,
	reservation *ReservationUsecase,
	logger zerolog.Logger,
) *CartUsecase {
	return &CartUsecase{
		cartRepo:     cartRepo,
		cartItemRepo: cartItemRepo,
		productRepo:  productRepo,
		reservation:  reservation,
		logger:       logger,
	}
}

type CartItemResponse struct {
	ID            int64  `json:"id"`
	ProductID     int64  `json:"product_id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	Quantity      int64  `json:"quantity"`
	IsBooking     bool   `json:"is_booking"`
	StockReserved bool   `json:"stock_reserved"`
}

// ReservedUnits は台帳に計上済みの合計数量（booking明細は含まない）
type CartResponse struct {
	CartID        int64              `json:"cart_id"`
	Items         []CartItemResponse `json:"items"`
	Total         int64              `json:"total"`
	ReservedUnits int64              `json:"reserved_units"`
}

type AddItemInput struct {
	ProductID int64
	Quantity  int64
	IsBooking bool
}

// GetCart はカート取得（無ければACTIVEを作って空を返す）。
func (u *CartUsecase) GetCart(ctx context.Context, owner model.Owner) (CartResponse, error) {
	if owner.Key == "" {
		return CartResponse{}, errors.New("invalid owner")
	}

	cart, err := u.cartRepo.GetOrCreateActiveByOwner(ctx, owner)
	if err != nil {
		return CartResponse{}, err
	}

	return u.buildCartResponse(ctx, cart.ID)
}

// AddItem はカートに追加（同一商品・同一booking種別は数量加算）。
// booking でなければ追加分だけ先に予約し、予約できなければ明細は触らない。
func (u *CartUsecase) AddItem(ctx context.Context, owner model.Owner, in AddItemInput) (CartResponse, error) {
	if owner.Key == "" {
		return CartResponse{}, errors.New("invalid owner")
	}
	if in.ProductID <= 0 {
		return CartResponse{}, errors.New("invalid product_id")
	}
	if in.Quantity < 1 {
		return CartResponse{}, errors.New("invalid quantity")
	}

	cart, err := u.cartRepo.GetOrCreateActiveByOwner(ctx, owner)
	if err != nil {
		return CartResponse{}, err
	}

	p, err := u.productRepo.FindByID(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, fmt.Errorf("product %d: %w", in.ProductID, repo.ErrNotFound)
	}
	if err != nil {
		return CartResponse{}, err
	}
	if !p.IsActive {
		return CartResponse{}, fmt.Errorf("product %d: %w", in.ProductID, repo.ErrNotFound)
	}

	existing, err := u.cartItemRepo.FindByCartProduct(ctx, cart.ID, in.ProductID, in.IsBooking)
	hasExisting := err == nil
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, err
	}

	// 加算分だけ予約（booking は台帳に触らない）
	if !in.IsBooking {
		if err := u.reservation.Reserve(ctx, in.ProductID, in.Quantity); err != nil {
			return CartResponse{}, err
		}
	}

	if hasExisting {
		err = u.cartItemRepo.UpdateQuantity(ctx, existing.ID, existing.Quantity+in.Quantity)
	} else {
		_, err = u.cartItemRepo.Create(ctx, model.CartItem{
			CartID:            cart.ID,
			ProductID:         in.ProductID,
			Quantity:          in.Quantity,
			UnitPriceSnapshot: p.Price,
			IsBooking:         in.IsBooking,
			StockReserved:     !in.IsBooking,
		})
	}
	if err != nil {
		// 明細が書けなかったら予約を戻す
		if !in.IsBooking {
			u.compensateRelease(ctx, in.ProductID, in.Quantity)
		}
		return CartResponse{}, err
	}

	u.touch(ctx, cart.ID)
	return u.buildCartResponse(ctx, cart.ID)
}

// UpdateQuantity は数量変更。増分は予約、減分は解放。
// newQty < 1 は削除として扱う。
func (u *CartUsecase) UpdateQuantity(ctx context.Context, owner model.Owner, cartItemID int64, newQty int64) (CartResponse, error) {
	if owner.Key == "" {
		return CartResponse{}, errors.New("invalid owner")
	}
	if cartItemID <= 0 {
		return CartResponse{}, errors.New("invalid id")
	}

	cart, err := u.cartRepo.FindActiveByOwner(ctx, owner)
	if err != nil {
		return CartResponse{}, err
	}

	item, err := u.cartItemRepo.FindByID(ctx, cartItemID)
	if err != nil {
		return CartResponse{}, err
	}
	if item.CartID != cart.ID {
		//他人の明細は「存在しない扱い」にする
		return CartResponse{}, repo.ErrNotFound
	}

	if newQty < 1 {
		if err := u.removeLine(ctx, item); err != nil {
			return CartResponse{}, err
		}
		u.touch(ctx, cart.ID)
		return u.buildCartResponse(ctx, cart.ID)
	}

	delta := newQty - item.Quantity

	if delta > 0 && !item.IsBooking {
		//増分の予約に失敗したら明細は変えない
		if err := u.reservation.Reserve(ctx, item.ProductID, delta); err != nil {
			return CartResponse{}, err
		}
	}
	if delta < 0 && item.HoldsReservation() {
		//減分の解放失敗は更新を止めない（ドリフトはカウンタで拾う）
		if err := u.reservation.Release(ctx, item.ProductID, -delta); err != nil {
			u.logger.Warn().Err(err).
				Int64("cart_item_id", item.ID).
				Int64("product_id", item.ProductID).
				Msg("release on quantity decrease failed")
		}
	}

	if err := u.cartItemRepo.UpdateQuantity(ctx, item.ID, newQty); err != nil {
		if delta > 0 && !item.IsBooking {
			u.compensateRelease(ctx, item.ProductID, delta)
		}
		return CartResponse{}, err
	}

	u.touch(ctx, cart.ID)
	return u.buildCartResponse(ctx, cart.ID)
}

// RemoveItem は明細削除（予約分は解放してから消す）。
func (u *CartUsecase) RemoveItem(ctx context.Context, owner model.Owner, cartItemID int64) (CartResponse, error) {
	if owner.Key == "" {
		return CartResponse{}, errors.New("invalid owner")
	}
	if cartItemID <= 0 {
		return CartResponse{}, errors.New("invalid id")
	}

	cart, err := u.cartRepo.FindActiveByOwner(ctx, owner)
	if err != nil {
		return CartResponse{}, err
	}

	item, err := u.cartItemRepo.FindByID(ctx, cartItemID)
	if err != nil {
		return CartResponse{}, err
	}
	if item.CartID != cart.ID {
		return CartResponse{}, repo.ErrNotFound
	}

	if err := u.removeLine(ctx, item); err != nil {
		return CartResponse{}, err
	}

	u.touch(ctx, cart.ID)
	return u.buildCartResponse(ctx, cart.ID)
}

// Clear はカートを空にする。予約済みの明細は全部解放する。
// 解放の失敗は明細削除を止めない。
func (u *CartUsecase) Clear(ctx context.Context, owner model.Owner) (CartResponse, error) {
	if owner.Key == "" {
		return CartResponse{}, errors.New("invalid owner")
	}

	cart, err := u.cartRepo.FindActiveByOwner(ctx, owner)
	if err != nil {
		return CartResponse{}, err
	}

	items, err := u.cartItemRepo.ListByCartID(ctx, cart.ID)
	if err != nil {
		return CartResponse{}, err
	}

	for _, it := range items {
		if !it.HoldsReservation() {
			continue
		}
		if err := u.reservation.Release(ctx, it.ProductID, it.Quantity); err != nil {
			u.logger.Warn().Err(err).
				Int64("cart_item_id", it.ID).
				Int64("product_id", it.ProductID).
				Msg("release on cart clear failed")
		}
	}

	if err := u.cartItemRepo.DeleteByCartID(ctx, cart.ID); err != nil {
		return CartResponse{}, err
	}

	u.touch(ctx, cart.ID)
	return u.buildCartResponse(ctx, cart.ID)
}

// Migrate は匿名カートを認証後のカートへマージする。
// 予約は明細に付いたまま移動するので、台帳には一切触らない。
func (u *CartUsecase) Migrate(ctx context.Context, from model.Owner, to model.Owner) (CartResponse, error) {
	if from.Key == "" || to.Key == "" {
		return CartResponse{}, errors.New("invalid owner")
	}

	src, err := u.cartRepo.FindActiveByOwner(ctx, from)
	if errors.Is(err, repo.ErrNotFound) {
		// 移行元が無ければ移行先をそのまま返す
		return u.GetCart(ctx, to)
	}
	if err != nil {
		return CartResponse{}, err
	}

	dst, err := u.cartRepo.GetOrCreateActiveByOwner(ctx, to)
	if err != nil {
		return CartResponse{}, err
	}
	if src.ID == dst.ID {
		return u.buildCartResponse(ctx, dst.ID)
	}

	srcItems, err := u.cartItemRepo.ListByCartID(ctx, src.ID)
	if err != nil {
		return CartResponse{}, err
	}

	for _, it := range srcItems {
		match, err := u.cartItemRepo.FindByCartProduct(ctx, dst.ID, it.ProductID, it.IsBooking)
		if err == nil {
			//同一商品・同一booking種別は数量合算
			if err := u.cartItemRepo.UpdateQuantity(ctx, match.ID, match.Quantity+it.Quantity); err != nil {
				return CartResponse{}, err
			}
			if err := u.cartItemRepo.DeleteByID(ctx, it.ID); err != nil {
				return CartResponse{}, err
			}
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return CartResponse{}, err
		}
		if err := u.cartItemRepo.MoveToCart(ctx, it.ID, dst.ID); err != nil {
			return CartResponse{}, err
		}
	}

	if err := u.cartRepo.DeleteByID(ctx, src.ID); err != nil {
		return CartResponse{}, err
	}

	u.touch(ctx, dst.ID)
	return u.buildCartResponse(ctx, dst.ID)
}

func (u *CartUsecase) removeLine(ctx context.Context, item model.CartItem) error {
	if item.HoldsReservation() {
		if err := u.reservation.Release(ctx, item.ProductID, item.Quantity); err != nil {
			u.logger.Warn().Err(err).
				Int64("cart_item_id", item.ID).
				Int64("product_id", item.ProductID).
				Msg("release on item remove failed")
		}
	}
	return u.cartItemRepo.DeleteByID(ctx, item.ID)
}

// 予約だけ通って明細が書けなかったときの巻き戻し
func (u *CartUsecase) compensateRelease(ctx context.Context, productID int64, qty int64) {
	if err := u.reservation.Release(ctx, productID, qty); err != nil {
		u.logger.Error().Err(err).
			Int64("product_id", productID).
			Int64("quantity", qty).
			Msg("compensating release failed, reserved count drifted")
	}
}

func (u *CartUsecase) touch(ctx context.Context, cartID int64) {
	if err := u.cartRepo.TouchLastActive(ctx, cartID); err != nil {
		u.logger.Warn().Err(err).Int64("cart_id", cartID).Msg("touch last_active_at failed")
	}
}

// cartIDの明細をまとめてCartResponseを作る。
func (u *CartUsecase) buildCartResponse(ctx context.Context, cartID int64) (CartResponse, error) {
	items, err := u.cartItemRepo.ListByCartID(ctx, cartID)
	if err != nil {
		return CartResponse{}, err
	}

	respItems := make([]CartItemResponse, 0, len(items))
	var total int64 = 0
	var reservedUnits int64 = 0

	for _, it := range items {
		if it.HoldsReservation() {
			reservedUnits += it.Quantity
		}

		name := ""
		if p, err := u.productRepo.FindByID(ctx, it.ProductID); err == nil {
			name = p.Name
		}

		respItems = append(respItems, CartItemResponse{
			ID:            it.ID,
			ProductID:     it.ProductID,
			Name:          name,
			Price:         it.UnitPriceSnapshot,
			Quantity:      it.Quantity,
			IsBooking:     it.IsBooking,
			StockReserved: it.StockReserved,
		})

		total += it.UnitPriceSnapshot * it.Quantity
	}

	return CartResponse{
		CartID:        cartID,
		Items:         respItems,
		Total:         total,
		ReservedUnits: reservedUnits,
	}, nil
}
