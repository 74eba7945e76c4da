package market

import "errors"

// 核心操作的錯誤類型
// 所有錯誤都是同步回傳，操作失敗時不會留下任何部分狀態
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInsufficientBid   = errors.New("insufficient bid")
	ErrExpired           = errors.New("auction expired")
	ErrAlreadyEnded      = errors.New("auction already ended")
	ErrAlreadyListed     = errors.New("already listed")
	ErrInsufficientFunds = errors.New("insufficient funds")
)
