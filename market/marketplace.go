package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type marketplaceOptions struct {
	now func() time.Time
}

type MarketplaceOption func(*marketplaceOptions)

// WithMarketplaceClock 設置時間來源(主要用於測試)
// 建立出來的拍賣會沿用同一個時間來源
func WithMarketplaceClock(now func() time.Time) MarketplaceOption {
	return func(o *marketplaceOptions) {
		o.now = now
	}
}

// Marketplace 負責建立拍賣並維護資產與拍賣的綁定
// 同一個資產同時最多只能有一場還開著的拍賣，這個限制以資產編號為鍵，
// 跟著資產移轉走而不是跟著擁有者走
type Marketplace struct {
	mu       sync.Mutex
	registry *AssetRegistry
	ledger   Ledger
	now      func() time.Time

	counter  uint64              // 已配發的拍賣編號數，編號從 1 開始
	auctions map[uint64]*Auction // 拍賣編號 → 拍賣實例
	assets   map[uint64]uint64   // 拍賣編號 → 資產編號
	listings map[uint64]uint64   // 資產編號 → 開放中拍賣的編號
}

func NewMarketplace(registry *AssetRegistry, ledger Ledger, opts ...MarketplaceOption) *Marketplace {
	// 默認選項
	options := marketplaceOptions{
		now: time.Now,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Marketplace{
		registry: registry,
		ledger:   ledger,
		now:      options.now,
		auctions: make(map[uint64]*Auction),
		assets:   make(map[uint64]uint64),
		listings: make(map[uint64]uint64),
	}
}

// ListAsset 把資產掛上拍賣，受益人即為呼叫者，回傳配發的拍賣編號與拍賣實例
//
// 檢查順序:
//   - 1. 資產不存在: 回傳 ErrNotFound
//   - 2. 呼叫者不是資產擁有者: 回傳 ErrUnauthorized
//   - 3. 資產已有開放中的拍賣: 回傳 ErrAlreadyListed
//
// 上架紀錄在綁定的拍賣結束後視為失效，所以同一個資產在前一場拍賣
// 結束後可以重新上架；失效的紀錄在這裡惰性清除
func (m *Marketplace) ListAsset(caller uuid.UUID, floor, maxPrice uint64, duration time.Duration, assetID uint64) (uint64, *Auction, error) {
	const op = "Marketplace.ListAsset"
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, err := m.registry.OwnerOf(assetID)
	if err != nil {
		return 0, nil, fmt.Errorf("[%s] Asset does not exist. err=%w", op, err)
	}
	if owner != caller {
		return 0, nil, fmt.Errorf("[%s] You are not the owner. err=%w", op, ErrUnauthorized)
	}
	if number, ok := m.listings[assetID]; ok {
		if !m.auctions[number].Ended() {
			return 0, nil, fmt.Errorf("[%s] Already put an asset for sale. err=%w", op, ErrAlreadyListed)
		}
		delete(m.listings, assetID)
	}

	auction, err := NewAuction(m.ledger, caller, floor, maxPrice, duration, WithAuctionClock(m.now))
	if err != nil {
		return 0, nil, fmt.Errorf("[%s] fail to create auction, err=%w", op, err)
	}

	m.counter++
	number := m.counter
	m.auctions[number] = auction
	m.assets[number] = assetID
	m.listings[assetID] = number
	return number, auction, nil
}

// Auction 以拍賣編號查詢拍賣實例
func (m *Marketplace) Auction(number uint64) (*Auction, error) {
	const op = "Marketplace.Auction"
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[number]
	if !ok {
		return nil, fmt.Errorf("[%s] auction %d, err=%w", op, number, ErrNotFound)
	}
	return auction, nil
}

// AssetOf 查詢拍賣綁定的資產編號
func (m *Marketplace) AssetOf(number uint64) (uint64, error) {
	const op = "Marketplace.AssetOf"
	m.mu.Lock()
	defer m.mu.Unlock()

	assetID, ok := m.assets[number]
	if !ok {
		return 0, fmt.Errorf("[%s] auction %d, err=%w", op, number, ErrNotFound)
	}
	return assetID, nil
}

// OpenListing 查詢資產目前綁定的開放中拍賣編號
// 綁定的拍賣已結束時視同沒有上架
func (m *Marketplace) OpenListing(assetID uint64) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	number, ok := m.listings[assetID]
	if !ok {
		return 0, false
	}
	if m.auctions[number].Ended() {
		delete(m.listings, assetID)
		return 0, false
	}
	return number, true
}

// AuctionCount 回傳已建立的拍賣數量
func (m *Marketplace) AuctionCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}
