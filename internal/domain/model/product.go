package model

import (
	"time"

	"gorm.io/gorm"
)

// stock は所有在庫、reserved_stock はカートに仮押さえされた数量。
// stock - reserved_stock が販売可能数で、常に 0 以上を守る。
type Product struct {
	ID                int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string         `gorm:"type:varchar(255);not null" json:"name"`
	Description       string         `gorm:"type:text" json:"description"`
	Price             int64          `gorm:"not null" json:"price"`
	Stock             int64          `gorm:"not null" json:"stock"`
	ReservedStock     int64          `gorm:"not null;default:0" json:"reserved_stock"`
	TotalSold         int64          `gorm:"not null;default:0" json:"total_sold"`
	LowStockThreshold int64          `gorm:"not null;default:0" json:"low_stock_threshold"`
	IsActive          bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt         time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

// 予約分を除いた販売可能数
func (p Product) AvailableStock() int64 {
	return p.Stock - p.ReservedStock
}
