package market_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"bazaar/market"
)

const (
	listingFloor    = 10
	listingMaxPrice = 100
	listingDuration = time.Hour
)

type marketplaceFixture struct {
	registry    *market.AssetRegistry
	ledger      *market.MemoryLedger
	clock       *fakeClock
	marketplace *market.Marketplace
	account     uuid.UUID
	account2    uuid.UUID
	account3    uuid.UUID
}

func deployMarketplaceFixture(t *testing.T) marketplaceFixture {
	t.Helper()
	registry := market.NewAssetRegistry()
	ledger := market.NewMemoryLedger()
	clock := newFakeClock()
	account, account2, account3 := uuid.New(), uuid.New(), uuid.New()
	for _, a := range []uuid.UUID{account, account2, account3} {
		ledger.Credit(a, 1000)
	}
	return marketplaceFixture{
		registry:    registry,
		ledger:      ledger,
		clock:       clock,
		marketplace: market.NewMarketplace(registry, ledger, market.WithMarketplaceClock(clock.Now)),
		account:     account,
		account2:    account2,
		account3:    account3,
	}
}

// listingExistsFixture 鑄造資產0並由擁有者上架
func listingExistsFixture(t *testing.T) marketplaceFixture {
	t.Helper()
	f := deployMarketplaceFixture(t)
	_, err := f.registry.Mint(f.account, "Test1")
	assert.NoError(t, err)
	_, _, err = f.marketplace.ListAsset(f.account, listingFloor, listingMaxPrice, listingDuration, 0)
	assert.NoError(t, err)
	return f
}

func TestListAsset(t *testing.T) {
	t.Run("資產不存在時應失敗", func(t *testing.T) {
		f := deployMarketplaceFixture(t)
		_, _, err := f.marketplace.ListAsset(f.account, listingFloor, listingMaxPrice, listingDuration, 999)
		assert.ErrorIs(t, err, market.ErrNotFound)
		assert.Contains(t, err.Error(), "Asset does not exist.")
	})

	t.Run("呼叫者不是擁有者時應失敗", func(t *testing.T) {
		f := listingExistsFixture(t)
		_, _, err := f.marketplace.ListAsset(f.account2, listingFloor, listingMaxPrice, listingDuration, 0)
		assert.ErrorIs(t, err, market.ErrUnauthorized)
		assert.Contains(t, err.Error(), "You are not the owner.")
	})

	t.Run("資產已有開放中的拍賣時應失敗", func(t *testing.T) {
		f := listingExistsFixture(t)
		_, _, err := f.marketplace.ListAsset(f.account, listingFloor, listingMaxPrice, listingDuration, 0)
		assert.ErrorIs(t, err, market.ErrAlreadyListed)
		assert.Contains(t, err.Error(), "Already put an asset for sale.")
	})

	t.Run("上架限制跟著資產移轉走", func(t *testing.T) {
		f := listingExistsFixture(t)
		// 移轉有開放中拍賣的資產後，新擁有者同樣不能再上架
		assert.NoError(t, f.registry.TransferTo(f.account, f.account2, 0))
		_, _, err := f.marketplace.ListAsset(f.account2, listingFloor, listingMaxPrice, listingDuration, 0)
		assert.ErrorIs(t, err, market.ErrAlreadyListed)
	})

	t.Run("成功上架後拍賣編號應從1開始遞增", func(t *testing.T) {
		f := listingExistsFixture(t)
		assert.Equal(t, uint64(1), f.marketplace.AuctionCount())

		number, ok := f.marketplace.OpenListing(0)
		assert.True(t, ok)
		assert.Equal(t, uint64(1), number)
	})

	t.Run("建立的拍賣應綁定受益人與底價", func(t *testing.T) {
		f := listingExistsFixture(t)
		auction, err := f.marketplace.Auction(1)
		assert.NoError(t, err)
		assert.Equal(t, f.account, auction.Beneficiary())
		assert.Equal(t, uint64(listingFloor), auction.FloorPrice())
		assert.Equal(t, uint64(listingMaxPrice), auction.MaxPrice())

		assetID, err := f.marketplace.AssetOf(1)
		assert.NoError(t, err)
		assert.Equal(t, uint64(0), assetID)
	})

	t.Run("不存在的拍賣編號應失敗", func(t *testing.T) {
		f := deployMarketplaceFixture(t)
		_, err := f.marketplace.Auction(1)
		assert.ErrorIs(t, err, market.ErrNotFound)
	})

	t.Run("前一場拍賣結算後可以重新上架", func(t *testing.T) {
		f := listingExistsFixture(t)
		auction, err := f.marketplace.Auction(1)
		assert.NoError(t, err)
		assert.NoError(t, auction.Settle(f.account))

		number, _, err := f.marketplace.ListAsset(f.account, listingFloor, listingMaxPrice, listingDuration, 0)
		assert.NoError(t, err)
		assert.Equal(t, uint64(2), number)
	})

	t.Run("前一場拍賣過期後可以重新上架", func(t *testing.T) {
		f := listingExistsFixture(t)
		f.clock.Advance(listingDuration)

		_, ok := f.marketplace.OpenListing(0)
		assert.False(t, ok)

		number, _, err := f.marketplace.ListAsset(f.account, listingFloor, listingMaxPrice, listingDuration, 0)
		assert.NoError(t, err)
		assert.Equal(t, uint64(2), number)
	})
}

// TestMarketplaceScenario 驗證完整的鑄造、上架、競價到立即結算流程:
// A 鑄造資產0並上架(底價10、最高價100、1小時)，B 出價10成功、
// B 再出價11被拒、C 出價100觸發立即結算並退還 B 的10
func TestMarketplaceScenario(t *testing.T) {
	f := deployMarketplaceFixture(t)
	ownerA, bidderB, bidderC := f.account, f.account2, f.account3

	assetID, err := f.registry.Mint(ownerA, "Genesis")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), assetID)

	_, auction, err := f.marketplace.ListAsset(ownerA, 10, 100, time.Hour, assetID)
	assert.NoError(t, err)

	// B 出價底價成功
	assert.NoError(t, auction.Bid(bidderB, 10))
	bidder, ok := auction.MaxBidder()
	assert.True(t, ok)
	assert.Equal(t, bidderB, bidder)

	// B 自我加價被拒
	err = auction.Bid(bidderB, 11)
	assert.ErrorIs(t, err, market.ErrUnauthorized)

	// C 出價100觸發立即結算
	assert.NoError(t, auction.Bid(bidderC, 100))
	assert.True(t, auction.Ended())
	assert.True(t, auction.InstantBuy())
	assert.Equal(t, uint64(1000), f.ledger.Balance(bidderB))
	assert.Equal(t, uint64(1000-100), f.ledger.Balance(bidderC))
	assert.Equal(t, uint64(1000+100), f.ledger.Balance(ownerA))
	assert.Equal(t, uint64(0), f.ledger.Balance(auction.EscrowAccount()))
}
