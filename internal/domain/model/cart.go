package model

import "time"

type CartStatus string

const (
	CartStatusActive     CartStatus = "ACTIVE"
	CartStatusCheckedOut CartStatus = "CHECKED_OUT"
	CartStatusAbandoned  CartStatus = "ABANDONED"
)

// 1オーナーにつきACTIVEは1つ。
// last_active_at は操作のたびに更新し、匿名カートの期限切れ判定に使う。
type Cart struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerType    OwnerType  `gorm:"type:varchar(20);not null;index:idx_carts_owner" json:"owner_type"`
	OwnerKey     string     `gorm:"type:varchar(64);not null;index:idx_carts_owner" json:"owner_key"`
	Status       CartStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	LastActiveAt time.Time  `gorm:"not null;index" json:"last_active_at"`
	CreatedAt    time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (c Cart) Owner() Owner {
	return Owner{Type: c.OwnerType, Key: c.OwnerKey}
}
