package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type auctionOptions struct {
	now    func() time.Time
	escrow uuid.UUID
}

type AuctionOption func(*auctionOptions)

// WithAuctionClock 設置時間來源(主要用於測試)
func WithAuctionClock(now func() time.Time) AuctionOption {
	return func(o *auctionOptions) {
		o.now = now
	}
}

// WithAuctionEscrowAccount 設置託管帳戶
func WithAuctionEscrowAccount(escrow uuid.UUID) AuctionOption {
	return func(o *auctionOptions) {
		o.escrow = escrow
	}
}

// Auction 是單一拍賣的狀態機，狀態只有 Open 和 Ended 兩種，
// 且恰好轉移到 Ended 一次。出價的資金由專屬的託管帳戶保管，
// 直到被更高的出價退回、或在結算時支付給受益人。
//
// 截止時間不靠背景計時器觸發，而是在每個公開操作的開頭惰性檢查，
// 所以拍賣不會在沒有人觀察的情況下自己結束。
type Auction struct {
	mu     sync.Mutex
	ledger Ledger
	now    func() time.Time

	// 建構時固定的參數
	beneficiary uuid.UUID
	escrow      uuid.UUID
	floor       uint64
	maxPrice    uint64
	deadline    time.Time

	// 出價狀態
	bidder     uuid.UUID
	bid        uint64
	hasBidder  bool
	ended      bool
	instantBuy bool
}

// NewAuction 建立一個新的拍賣
// floor 必須大於 0，maxPrice 必須大於 floor，duration 必須大於 0，
// duration 在建構時就換算成絕對的截止時間
func NewAuction(ledger Ledger, beneficiary uuid.UUID, floor, maxPrice uint64, duration time.Duration, opts ...AuctionOption) (*Auction, error) {
	const op = "NewAuction"
	if ledger == nil {
		return nil, fmt.Errorf("[%s] ledger cannot be nil, err=%w", op, ErrInvalidInput)
	}
	if floor == 0 {
		return nil, fmt.Errorf("[%s] floor price must be positive, err=%w", op, ErrInvalidInput)
	}
	if maxPrice <= floor {
		return nil, fmt.Errorf("[%s] max price %d must exceed floor %d, err=%w", op, maxPrice, floor, ErrInvalidInput)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("[%s] duration must be positive, err=%w", op, ErrInvalidInput)
	}

	// 默認選項
	options := auctionOptions{
		now:    time.Now,
		escrow: uuid.New(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Auction{
		ledger:      ledger,
		now:         options.now,
		beneficiary: beneficiary,
		escrow:      options.escrow,
		floor:       floor,
		maxPrice:    maxPrice,
		deadline:    options.now().Add(duration),
	}, nil
}

// resolveExpiredLocked 是惰性結算的入口，必須持有鎖才能呼叫
// 截止時間已過且拍賣還開著時，把目前最高出價(若有)從託管帳戶付給受益人並關閉拍賣
func (a *Auction) resolveExpiredLocked() error {
	const op = "Auction.resolveExpired"
	if a.ended || a.now().Before(a.deadline) {
		return nil
	}
	if a.hasBidder {
		if err := a.ledger.Transfer(a.escrow, a.beneficiary, a.bid); err != nil {
			return fmt.Errorf("[%s] fail to pay beneficiary, err=%w", op, err)
		}
	}
	a.ended = true
	a.instantBuy = false
	return nil
}

// Bid 提交一筆出價
//
// 檢查順序:
//   - 1. 截止時間已過: 先惰性結算，再回傳 ErrExpired
//   - 2. 呼叫者已是最高出價者: 回傳 ErrUnauthorized
//   - 3. 金額沒有嚴格高於目前最高出價(首次出價則是低於底價): 回傳 ErrInsufficientBid
//
// 通過檢查後依序執行: 出價資金轉入託管帳戶 → 退還前一位最高出價者的全額 →
// 記錄新的最高出價 → 金額達到最高價時立即結算(instant buy)。
// 任何一步轉帳失敗都會把前面的轉帳補償回去，讓整個操作不留下任何狀態
func (a *Auction) Bid(caller uuid.UUID, value uint64) error {
	const op = "Auction.Bid"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.resolveExpiredLocked(); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	if a.ended {
		return fmt.Errorf("[%s] err=%w", op, ErrExpired)
	}
	if a.hasBidder && a.bidder == caller {
		return fmt.Errorf("[%s] current highest bidder cannot raise their own bid, err=%w", op, ErrUnauthorized)
	}
	if a.hasBidder {
		if value <= a.bid {
			return fmt.Errorf("[%s] bid %d must exceed current bid %d, err=%w", op, value, a.bid, ErrInsufficientBid)
		}
	} else if value < a.floor {
		return fmt.Errorf("[%s] bid %d is below floor %d, err=%w", op, value, a.floor, ErrInsufficientBid)
	}

	// 出價資金進入託管
	if err := a.ledger.Transfer(caller, a.escrow, value); err != nil {
		return fmt.Errorf("[%s] fail to escrow bid, err=%w", op, err)
	}

	// 退還前一位最高出價者的全額
	prevBidder, prevBid, hadBidder := a.bidder, a.bid, a.hasBidder
	if hadBidder {
		if err := a.ledger.Transfer(a.escrow, prevBidder, prevBid); err != nil {
			// 補償剛剛的入金，維持託管餘額等於應退還與應支付的總和
			if cErr := a.ledger.Transfer(a.escrow, caller, value); cErr != nil {
				return fmt.Errorf("[%s] refund failed and compensation failed, err=%w, compensation=%v", op, err, cErr)
			}
			return fmt.Errorf("[%s] fail to refund previous bidder, err=%w", op, err)
		}
	}

	// 記錄新的最高出價
	a.bidder = caller
	a.bid = value
	a.hasBidder = true

	// 達到最高價時立即結算
	if value >= a.maxPrice {
		if err := a.ledger.Transfer(a.escrow, a.beneficiary, value); err != nil {
			// 託管餘額此時恰好等於 value，支付不可能因餘額不足而失敗；
			// 仍然失敗時撤銷這次出價並退款，拍賣回到沒有出價者的狀態
			a.bidder, a.bid, a.hasBidder = uuid.Nil, 0, false
			if cErr := a.ledger.Transfer(a.escrow, caller, value); cErr != nil {
				return fmt.Errorf("[%s] payout failed and compensation failed, err=%w, compensation=%v", op, err, cErr)
			}
			return fmt.Errorf("[%s] fail to pay beneficiary, err=%w", op, err)
		}
		a.ended = true
		a.instantBuy = true
	}
	return nil
}

// Settle 由受益人提前結算拍賣
// 把目前最高出價(沒有出價則為 0)付給受益人並關閉拍賣，instantBuy 維持 false
func (a *Auction) Settle(caller uuid.UUID) error {
	const op = "Auction.Settle"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.resolveExpiredLocked(); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	if caller != a.beneficiary {
		return fmt.Errorf("[%s] only the beneficiary can settle, err=%w", op, ErrUnauthorized)
	}
	if a.ended {
		return fmt.Errorf("[%s] err=%w", op, ErrAlreadyEnded)
	}
	if a.hasBidder {
		if err := a.ledger.Transfer(a.escrow, a.beneficiary, a.bid); err != nil {
			return fmt.Errorf("[%s] fail to pay beneficiary, err=%w", op, err)
		}
	}
	a.ended = true
	a.instantBuy = false
	return nil
}

// Ended 回傳拍賣是否已結束
// 截止時間已過時會先執行惰性結算，觀察者不會看到過期卻還是 false 的狀態
func (a *Auction) Ended() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	// 惰性結算失敗時保持 Open，下一次存取會再嘗試
	_ = a.resolveExpiredLocked()
	return a.ended
}

// InstantBuy 回傳拍賣是否因出價達到最高價而結束
func (a *Auction) InstantBuy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instantBuy
}

// CurrentBid 回傳目前的最高出價，還沒有人出價時回傳底價
func (a *Auction) CurrentBid() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasBidder {
		return a.floor
	}
	return a.bid
}

// MaxBidder 回傳目前的最高出價者，第二個回傳值表示是否已有人出價
func (a *Auction) MaxBidder() (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bidder, a.hasBidder
}

// FloorPrice 回傳建構時固定的底價
func (a *Auction) FloorPrice() uint64 {
	return a.floor
}

// MaxPrice 回傳觸發立即結算的最高價
func (a *Auction) MaxPrice() uint64 {
	return a.maxPrice
}

// Beneficiary 回傳受益人帳戶
func (a *Auction) Beneficiary() uuid.UUID {
	return a.beneficiary
}

// EscrowAccount 回傳這個拍賣專屬的託管帳戶
func (a *Auction) EscrowAccount() uuid.UUID {
	return a.escrow
}

// Deadline 回傳建構時換算出的絕對截止時間
func (a *Auction) Deadline() time.Time {
	return a.deadline
}
