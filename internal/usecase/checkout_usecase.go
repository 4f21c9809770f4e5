package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/rs/zerolog"
)

// CheckoutUsecase は注文の作成と決済確認を扱う。
// PlaceOrder の時点では予約はカートに乗ったまま。
// ConfirmPayment で予約を売上へ確定し、カートを空にする。
type CheckoutUsecase struct {
	tx     repo.TransactionManager
	logger zerolog.Logger
}

func NewCheckoutUsecase(tx repo.TransactionManager, logger zerolog.Logger) *CheckoutUsecase {
	return &CheckoutUsecase{tx: tx, logger: logger}
}

type PlaceOrderInput struct {
	IdempotencyKey string
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	IsBooking bool   `json:"is_booking"`
}

type OrderOutput struct {
	ID             int64             `json:"id"`
	UserID         int64             `json:"user_id"`
	Status         string            `json:"status"`
	TotalPrice     int64             `json:"total_price"`
	StockCommitted bool              `json:"stock_committed"`
	CreatedAt      time.Time         `json:"created_at"`
	Items          []OrderItemOutput `json:"items"`
}

// PlaceOrder はACTIVEカートをPENDING注文に写す。
// 在庫には触らない（予約は明細に乗ったまま、確定はConfirmPaymentで）。
func (u *CheckoutUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, errors.New("invalid user")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return OrderOutput{}, errors.New("invalid idempotency_key")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return err
		}
		if found {
			items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return err
			}
			out = toOrderOutput(existing, items)
			return nil
		}

		cart, err := r.Carts().FindActiveByOwner(ctx, model.UserOwner(userID))
		if err != nil {
			return err
		}

		cartItems, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(cartItems) == 0 {
			return errors.New("cart empty")
		}

		orderItems := make([]model.OrderItem, 0, len(cartItems))
		var total int64 = 0

		for _, ci := range cartItems {
			p, err := r.Products().FindByID(ctx, ci.ProductID)
			if err != nil {
				return err
			}

			now := time.Now()
			orderItems = append(orderItems, model.OrderItem{
				ProductID:           ci.ProductID,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   ci.UnitPriceSnapshot,
				Quantity:            ci.Quantity,
				IsBooking:           ci.IsBooking,
				CreatedAt:           now,
			})

			total += ci.UnitPriceSnapshot * ci.Quantity
		}

		now := time.Now()
		orderID, err := r.Orders().Create(ctx, model.Order{
			UserID:         userID,
			Status:         model.OrderStatusPending,
			TotalPrice:     total,
			IdempotencyKey: key,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			//競合（同時で同じキーが入った等）はもう一回検索して同じ結果を返す
			ex2, found2, err2 := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err2 == nil && found2 {
				items2, err3 := r.OrderItems().ListByOrderID(ctx, ex2.ID)
				if err3 != nil {
					return err3
				}
				out = toOrderOutput(ex2, items2)
				return nil
			}
			return err
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return err
		}

		created := model.Order{
			ID:         orderID,
			UserID:     userID,
			Status:     model.OrderStatusPending,
			TotalPrice: total,
			CreatedAt:  now,
		}
		out = toOrderOutput(created, orderItems)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// ConfirmPayment は決済成功後の在庫確定。
// stock_committed が冪等ガードで、再送されたイベントは既存の結果を返すだけ。
// 確定は非booking明細ごとにReservation.Commitを1回ずつ。
// どれかが失敗したらトランザクションごと巻き戻す。
func (u *CheckoutUsecase) ConfirmPayment(ctx context.Context, orderID int64) (OrderOutput, error) {
	if orderID <= 0 {
		return OrderOutput{}, errors.New("invalid order id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		if o.StockCommitted {
			// 確定済み。二重に stock を減らさない
			out = toOrderOutput(o, items)
			return nil
		}

		resv := NewReservationUsecase(r.Stock(), u.logger)
		for _, it := range items {
			if it.IsBooking {
				continue
			}
			if err := resv.Commit(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}

		if err := r.Orders().MarkStockCommitted(ctx, orderID); err != nil {
			return err
		}

		// カートは空にする。予約はcommitが消費済みなので解放はしない
		cart, err := r.Carts().FindActiveByOwner(ctx, model.UserOwner(o.UserID))
		if err == nil {
			if err := r.CartItems().DeleteByCartID(ctx, cart.ID); err != nil {
				return err
			}
			if err := r.Carts().UpdateStatus(ctx, cart.ID, model.CartStatusCheckedOut); err != nil {
				return err
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		o.Status = model.OrderStatusPaid
		o.StockCommitted = true
		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			IsBooking: it.IsBooking,
		})
	}

	return OrderOutput{
		ID:             o.ID,
		UserID:         o.UserID,
		Status:         string(o.Status),
		TotalPrice:     o.TotalPrice,
		StockCommitted: o.StockCommitted,
		CreatedAt:      o.CreatedAt,
		Items:          outItems,
	}
}
