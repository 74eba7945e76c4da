package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssetMedia 代表資產附帶的媒體檔案
// 包含檔案的公開 URL 以及上傳者的帳戶編號
type AssetMedia struct {
	gorm.Model

	ID         uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	AssetID    uint64    `gorm:"not null;index;<-:create"`
	UploaderID uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Url        string    `gorm:"type:text;not null;<-:create"`
}
