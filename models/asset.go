package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Asset 代表登錄簿中數位資產的歸檔紀錄
// 資產編號由核心登錄簿循序配發，不由資料庫產生
type Asset struct {
	gorm.Model

	AssetID uint64    `gorm:"primaryKey;autoIncrement:false"`
	Name    string    `gorm:"type:varchar(31);not null"`
	Owner   uuid.UUID `gorm:"type:uuid;not null;index"`

	// 外鍵關聯
	Media []AssetMedia `gorm:"foreignKey:AssetID;references:AssetID"`
}
