package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Auction 代表一場拍賣的歸檔紀錄
// 包含上架參數、截止時間與結束後的成交結果
type Auction struct {
	gorm.Model

	Number      uint64     `gorm:"primaryKey;autoIncrement:false"`
	AssetID     uint64     `gorm:"not null;index"`
	Beneficiary uuid.UUID  `gorm:"type:uuid;not null"`
	FloorPrice  uint64     `gorm:"not null"`
	MaxPrice    uint64     `gorm:"not null"`
	Deadline    time.Time  `gorm:"type:timestamp with time zone;not null"`
	Note        string     `gorm:"type:text;not null"`
	Ended       bool       `gorm:"not null;default:false"`
	InstantBuy  bool       `gorm:"not null;default:false"`
	Winner      *uuid.UUID `gorm:"type:uuid"`
	HammerPrice uint64     `gorm:"not null;default:0"`

	// 外鍵關聯
	Asset      Asset `gorm:"foreignKey:AssetID;references:AssetID"`
	BidRecords []Bid `gorm:"foreignKey:AuctionNumber;references:Number"`
}
