package model

import "time"

// カートの明細。
// 追加時点の価格を必ず保存。
// stock_reserved は台帳（reserved_stock）に計上済みかのフラグで、
// 予約系カウントの正は非予約販売（is_booking=false）の明細のみ。
type CartItem struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID            int64     `gorm:"not null;index" json:"cart_id"`
	ProductID         int64     `gorm:"not null;index" json:"product_id"`
	Quantity          int64     `gorm:"not null" json:"quantity"`
	UnitPriceSnapshot int64     `gorm:"not null;column:unit_price_snapshot" json:"unit_price_snapshot"`
	IsBooking         bool      `gorm:"not null;default:false" json:"is_booking"`
	StockReserved     bool      `gorm:"not null;default:false" json:"stock_reserved"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 台帳の予約数に乗っている明細か
func (i CartItem) HoldsReservation() bool {
	return i.StockReserved && !i.IsBooking
}
