package api

import (
	"time"

	"github.com/google/uuid"
)

// BidInfoBidder 代表出價紀錄中的出價者資訊
type BidInfoBidder struct {
	ID   uuid.UUID `msgpack:"id"`
	Name string    `msgpack:"name"`
}

// BidInfo 代表寫入stream的出價紀錄
type BidInfo struct {
	AuctionNumber uint64        `msgpack:"auctionNumber"`
	Bidder        BidInfoBidder `msgpack:"bidder"`
	Amount        uint64        `msgpack:"amount"`
	CreatedAt     time.Time     `msgpack:"createdAt"`
}

// BidEvent 代表透過SSE推送給訂閱者的出價事件
type BidEvent struct {
	Bid    uint64    `json:"bid"`
	Bidder string    `json:"bidder"`
	Time   time.Time `json:"time"`
}
