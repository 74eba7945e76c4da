package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bid 代表拍賣中一筆被接受的出價紀錄
// 記錄出價金額、出價者和所屬拍賣
type Bid struct {
	gorm.Model

	ID            uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	AuctionNumber uint64    `gorm:"not null;index;<-:create"`
	Bidder        uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Amount        uint64    `gorm:"not null;<-:create"`
}
