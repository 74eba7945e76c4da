package market

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Ledger 是拍賣引擎依賴的資金轉移原語
// 每次 Transfer 不是全部完成就是完全不生效，失敗時呼叫方必須放棄整個操作
type Ledger interface {
	// Transfer 從 from 帳戶轉移 amount 到 to 帳戶
	Transfer(from, to uuid.UUID, amount uint64) error
	// Balance 查詢帳戶餘額，不存在的帳戶餘額為 0
	Balance(account uuid.UUID) uint64
}

// MemoryLedger 以記憶體實作 Ledger，餘額不足時轉帳失敗
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]uint64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[uuid.UUID]uint64),
	}
}

// Credit 直接增加帳戶餘額，作為外部資金入金的入口
func (l *MemoryLedger) Credit(account uuid.UUID, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// Transfer 從 from 帳戶轉移 amount 到 to 帳戶
// 餘額不足時回傳 ErrInsufficientFunds 且不改變任何帳戶
func (l *MemoryLedger) Transfer(from, to uuid.UUID, amount uint64) error {
	const op = "MemoryLedger.Transfer"
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return fmt.Errorf("[%s] account %s holds %d, needs %d, err=%w", op, from, l.balances[from], amount, ErrInsufficientFunds)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// Balance 查詢帳戶餘額
func (l *MemoryLedger) Balance(account uuid.UUID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}
