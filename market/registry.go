package market

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MaxAssetNameLen 是資產名稱的長度上限(以位元組計)
const MaxAssetNameLen = 31

// Asset 代表一個被註冊的數位資產
// 每個資產在任何時刻都恰好有一個擁有者
type Asset struct {
	Name  string
	Owner uuid.UUID
}

// AssetRegistry 管理資產編號到名稱與目前擁有者的對應
// 資產編號從 0 開始循序配發，永不回收
type AssetRegistry struct {
	mu     sync.Mutex
	assets []Asset
}

func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{}
}

// Mint 鑄造一個新資產並指派給呼叫者，回傳配發的資產編號
func (r *AssetRegistry) Mint(caller uuid.UUID, name string) (uint64, error) {
	const op = "AssetRegistry.Mint"
	if len(name) > MaxAssetNameLen {
		return 0, fmt.Errorf("[%s] name is %d bytes, limit is %d, err=%w", op, len(name), MaxAssetNameLen, ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = append(r.assets, Asset{Name: name, Owner: caller})
	return uint64(len(r.assets) - 1), nil
}

// TransferTo 將資產移轉給新擁有者，只有目前擁有者可以呼叫
func (r *AssetRegistry) TransferTo(caller, newOwner uuid.UUID, assetID uint64) error {
	const op = "AssetRegistry.TransferTo"
	r.mu.Lock()
	defer r.mu.Unlock()

	if assetID >= uint64(len(r.assets)) {
		return fmt.Errorf("[%s] asset %d, err=%w", op, assetID, ErrNotFound)
	}
	if r.assets[assetID].Owner != caller {
		return fmt.Errorf("[%s] caller %s does not own asset %d, err=%w", op, caller, assetID, ErrUnauthorized)
	}
	r.assets[assetID].Owner = newOwner
	return nil
}

// EditName 更換資產名稱，只有目前擁有者可以呼叫
func (r *AssetRegistry) EditName(caller uuid.UUID, assetID uint64, newName string) error {
	const op = "AssetRegistry.EditName"
	r.mu.Lock()
	defer r.mu.Unlock()

	if assetID >= uint64(len(r.assets)) {
		return fmt.Errorf("[%s] asset %d, err=%w", op, assetID, ErrNotFound)
	}
	if r.assets[assetID].Owner != caller {
		return fmt.Errorf("[%s] caller %s does not own asset %d, err=%w", op, caller, assetID, ErrUnauthorized)
	}
	if len(newName) > MaxAssetNameLen {
		return fmt.Errorf("[%s] name is %d bytes, limit is %d, err=%w", op, len(newName), MaxAssetNameLen, ErrInvalidInput)
	}
	r.assets[assetID].Name = newName
	return nil
}

// OwnerOf 查詢資產目前的擁有者
func (r *AssetRegistry) OwnerOf(assetID uint64) (uuid.UUID, error) {
	const op = "AssetRegistry.OwnerOf"
	r.mu.Lock()
	defer r.mu.Unlock()

	if assetID >= uint64(len(r.assets)) {
		return uuid.Nil, fmt.Errorf("[%s] asset %d, err=%w", op, assetID, ErrNotFound)
	}
	return r.assets[assetID].Owner, nil
}

// Get 查詢資產內容
func (r *AssetRegistry) Get(assetID uint64) (Asset, error) {
	const op = "AssetRegistry.Get"
	r.mu.Lock()
	defer r.mu.Unlock()

	if assetID >= uint64(len(r.assets)) {
		return Asset{}, fmt.Errorf("[%s] asset %d, err=%w", op, assetID, ErrNotFound)
	}
	return r.assets[assetID], nil
}

// AssetsOf 依編號遞增回傳 owner 目前擁有的所有資產編號
// 沒有任何資產時回傳空切片而不是錯誤，呼叫方不應把空切片誤解為擁有編號 0
func (r *AssetRegistry) AssetsOf(owner uuid.UUID) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint64, 0)
	for id, asset := range r.assets {
		if asset.Owner == owner {
			ids = append(ids, uint64(id))
		}
	}
	return ids
}

// Count 回傳已鑄造的資產數量
func (r *AssetRegistry) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.assets))
}
