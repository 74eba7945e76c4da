package market_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"bazaar/market"
)

const (
	minimumBid      = 3
	initialBidValue = 10
	maxBid          = 100
	duration        = 24 * time.Hour
)

// fakeClock 是可以手動前進的時間來源
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type auctionFixture struct {
	ledger      *market.MemoryLedger
	clock       *fakeClock
	auction     *market.Auction
	beneficiary uuid.UUID
	other       uuid.UUID
	other2      uuid.UUID
}

func deployAuctionFixture(t *testing.T) auctionFixture {
	t.Helper()
	ledger := market.NewMemoryLedger()
	clock := newFakeClock()
	beneficiary, other, other2 := uuid.New(), uuid.New(), uuid.New()
	for _, account := range []uuid.UUID{beneficiary, other, other2} {
		ledger.Credit(account, 1000)
	}
	auction, err := market.NewAuction(ledger, beneficiary, minimumBid, maxBid, duration, market.WithAuctionClock(clock.Now))
	assert.NoError(t, err)
	return auctionFixture{
		ledger:      ledger,
		clock:       clock,
		auction:     auction,
		beneficiary: beneficiary,
		other:       other,
		other2:      other2,
	}
}

// bidSubmittedFixture 在部署後先由 other 出價 initialBidValue
func bidSubmittedFixture(t *testing.T) auctionFixture {
	t.Helper()
	f := deployAuctionFixture(t)
	assert.NoError(t, f.auction.Bid(f.other, initialBidValue))
	return f
}

func TestNewAuction(t *testing.T) {
	ledger := market.NewMemoryLedger()
	beneficiary := uuid.New()

	tests := []struct {
		name     string
		floor    uint64
		maxPrice uint64
		duration time.Duration
	}{
		{"底價為0時應失敗", 0, 100, time.Hour},
		{"最高價不高於底價時應失敗", 10, 10, time.Hour},
		{"拍賣期間為0時應失敗", 10, 100, 0},
		{"拍賣期間為負時應失敗", 10, 100, -time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := market.NewAuction(ledger, beneficiary, tt.floor, tt.maxPrice, tt.duration)
			assert.ErrorIs(t, err, market.ErrInvalidInput)
		})
	}

	t.Run("參數合法時應建立拍賣且截止時間為建構時間加上期間", func(t *testing.T) {
		clock := newFakeClock()
		auction, err := market.NewAuction(ledger, beneficiary, minimumBid, maxBid, duration, market.WithAuctionClock(clock.Now))
		assert.NoError(t, err)
		assert.Equal(t, clock.Now().Add(duration), auction.Deadline())
		assert.False(t, auction.Ended())
		assert.Equal(t, beneficiary, auction.Beneficiary())
	})
}

func TestBid(t *testing.T) {
	t.Run("目前最高出價者不能再次出價", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		err := f.auction.Bid(f.other, initialBidValue+1)
		assert.ErrorIs(t, err, market.ErrUnauthorized)
	})

	t.Run("金額沒有高於目前最高出價時應失敗", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		err := f.auction.Bid(f.other2, initialBidValue)
		assert.ErrorIs(t, err, market.ErrInsufficientBid)
		err = f.auction.Bid(f.other2, initialBidValue-1)
		assert.ErrorIs(t, err, market.ErrInsufficientBid)
	})

	t.Run("首次出價低於底價時應失敗", func(t *testing.T) {
		f := deployAuctionFixture(t)
		err := f.auction.Bid(f.other, minimumBid-1)
		assert.ErrorIs(t, err, market.ErrInsufficientBid)
	})

	t.Run("首次出價等於底價時應成功", func(t *testing.T) {
		f := deployAuctionFixture(t)
		assert.NoError(t, f.auction.Bid(f.other, minimumBid))
	})

	t.Run("拍賣已結算後不能出價", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		assert.NoError(t, f.auction.Settle(f.beneficiary))
		err := f.auction.Bid(f.other2, initialBidValue+1)
		assert.ErrorIs(t, err, market.ErrExpired)
	})

	t.Run("首次出價只把資金轉入託管帳戶", func(t *testing.T) {
		f := deployAuctionFixture(t)
		assert.NoError(t, f.auction.Bid(f.other, initialBidValue))

		assert.Equal(t, uint64(initialBidValue), f.ledger.Balance(f.auction.EscrowAccount()))
		assert.Equal(t, uint64(1000-initialBidValue), f.ledger.Balance(f.other))
		assert.Equal(t, uint64(1000), f.ledger.Balance(f.beneficiary))
	})

	t.Run("更高的出價應全額退還前一位出價者", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		assert.NoError(t, f.auction.Bid(f.other2, initialBidValue+1))

		// 託管帳戶只增加差額，前一位出價者拿回全額
		assert.Equal(t, uint64(initialBidValue+1), f.ledger.Balance(f.auction.EscrowAccount()))
		assert.Equal(t, uint64(1000-initialBidValue-1), f.ledger.Balance(f.other2))
		assert.Equal(t, uint64(1000), f.ledger.Balance(f.other))
	})

	t.Run("出價後應更新目前最高出價與出價者", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		bidder, ok := f.auction.MaxBidder()
		assert.True(t, ok)
		assert.Equal(t, f.other, bidder)
		assert.Equal(t, uint64(initialBidValue), f.auction.CurrentBid())
	})

	t.Run("出價達到最高價時應立即結算", func(t *testing.T) {
		f := deployAuctionFixture(t)
		assert.NoError(t, f.auction.Bid(f.other, maxBid))

		assert.True(t, f.auction.Ended())
		assert.True(t, f.auction.InstantBuy())
		bidder, ok := f.auction.MaxBidder()
		assert.True(t, ok)
		assert.Equal(t, f.other, bidder)
		assert.Equal(t, uint64(1000+maxBid), f.ledger.Balance(f.beneficiary))
		assert.Equal(t, uint64(0), f.ledger.Balance(f.auction.EscrowAccount()))
	})

	t.Run("超過最高價的出價同樣觸發立即結算並支付全額", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		assert.NoError(t, f.auction.Bid(f.other2, maxBid+5))

		assert.True(t, f.auction.Ended())
		assert.True(t, f.auction.InstantBuy())
		assert.Equal(t, uint64(1000+maxBid+5), f.ledger.Balance(f.beneficiary))
		assert.Equal(t, uint64(1000), f.ledger.Balance(f.other))
		assert.Equal(t, uint64(0), f.ledger.Balance(f.auction.EscrowAccount()))
	})

	t.Run("餘額不足的出價應失敗且不留下任何狀態", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		poor := uuid.New()
		err := f.auction.Bid(poor, initialBidValue+1)
		assert.ErrorIs(t, err, market.ErrInsufficientFunds)

		bidder, ok := f.auction.MaxBidder()
		assert.True(t, ok)
		assert.Equal(t, f.other, bidder)
		assert.Equal(t, uint64(initialBidValue), f.ledger.Balance(f.auction.EscrowAccount()))
	})

	t.Run("截止時間過後出價應失敗並惰性結算", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		f.clock.Advance(duration)

		err := f.auction.Bid(f.other2, initialBidValue+1)
		assert.ErrorIs(t, err, market.ErrExpired)
		assert.True(t, f.auction.Ended())
		assert.False(t, f.auction.InstantBuy())
		assert.Equal(t, uint64(1000+initialBidValue), f.ledger.Balance(f.beneficiary))
	})
}

func TestSettle(t *testing.T) {
	t.Run("不是受益人時應失敗", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		err := f.auction.Settle(f.other2)
		assert.ErrorIs(t, err, market.ErrUnauthorized)
		assert.False(t, f.auction.Ended())
	})

	t.Run("受益人結算後應收到目前最高出價", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		assert.NoError(t, f.auction.Settle(f.beneficiary))

		assert.True(t, f.auction.Ended())
		assert.False(t, f.auction.InstantBuy())
		assert.Equal(t, uint64(1000+initialBidValue), f.ledger.Balance(f.beneficiary))
		assert.Equal(t, uint64(0), f.ledger.Balance(f.auction.EscrowAccount()))
	})

	t.Run("沒有任何出價時結算金額為0", func(t *testing.T) {
		f := deployAuctionFixture(t)
		assert.NoError(t, f.auction.Settle(f.beneficiary))
		assert.True(t, f.auction.Ended())
		assert.Equal(t, uint64(1000), f.ledger.Balance(f.beneficiary))
	})

	t.Run("重複結算應失敗", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		assert.NoError(t, f.auction.Settle(f.beneficiary))
		err := f.auction.Settle(f.beneficiary)
		assert.ErrorIs(t, err, market.ErrAlreadyEnded)
	})

	t.Run("截止時間過後結算應回報已結束", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		f.clock.Advance(duration)
		err := f.auction.Settle(f.beneficiary)
		assert.ErrorIs(t, err, market.ErrAlreadyEnded)
		// 惰性結算已經把款項付給受益人
		assert.Equal(t, uint64(1000+initialBidValue), f.ledger.Balance(f.beneficiary))
	})
}

func TestLazySettlement(t *testing.T) {
	t.Run("截止時間一到任何存取都應觀察到拍賣結束", func(t *testing.T) {
		f := deployAuctionFixture(t)
		f.clock.Advance(duration)
		assert.True(t, f.auction.Ended())
		assert.False(t, f.auction.InstantBuy())
	})

	t.Run("惰性結算只會支付受益人一次", func(t *testing.T) {
		f := bidSubmittedFixture(t)
		f.clock.Advance(duration)

		assert.True(t, f.auction.Ended())
		assert.Equal(t, uint64(1000+initialBidValue), f.ledger.Balance(f.beneficiary))

		// 再次觀察不應重複付款
		assert.True(t, f.auction.Ended())
		assert.Equal(t, uint64(1000+initialBidValue), f.ledger.Balance(f.beneficiary))
	})

	t.Run("立即結算過的拍賣在截止後仍保持instantBuy", func(t *testing.T) {
		f := deployAuctionFixture(t)
		assert.NoError(t, f.auction.Bid(f.other, maxBid))
		f.clock.Advance(duration)

		assert.True(t, f.auction.Ended())
		assert.True(t, f.auction.InstantBuy())
		assert.Equal(t, uint64(1000+maxBid), f.ledger.Balance(f.beneficiary))
	})
}
