package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const AlertTypeMovement = "movement"

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrInvalidAmount   = errors.New("amount must be a positive number")
	ErrTooManyDecimals = errors.New("maximum 5 decimal places supported")
	ErrInvalidAnchor   = errors.New("anchor price must be positive")
)

// MaxAmountDecimals 移动阈值最多允许的小数位
const MaxAmountDecimals = 5

// MovementPayload 价格移动提醒的参数
type MovementPayload struct {
	Symbol      string          `json:"symbol"`
	MoveAmount  decimal.Decimal `json:"moveAmount"`
	AnchorPrice decimal.Decimal `json:"anchorPrice"`
}

// Validate 检查 moveAmount > 0 且 anchorPrice > 0
func (p MovementPayload) Validate() error {
	if !p.MoveAmount.IsPositive() {
		return ErrInvalidAmount
	}
	if !p.AnchorPrice.IsPositive() {
		return ErrInvalidAnchor
	}
	return nil
}

// Reanchored 返回以 price 为新锚点的副本，moveAmount 不变
func (p MovementPayload) Reanchored(price decimal.Decimal) MovementPayload {
	p.AnchorPrice = price
	return p
}

// Alert 用户的提醒（目前只有 movement 一种）
type Alert struct {
	ID        int64
	UserID    int64
	ChatID    string // owner's chat, joined from users
	Type      string
	Payload   MovementPayload
	Active    bool
	CreatedAt time.Time
}

// Clone 返回独立副本，索引与调用方不共享指针
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// User 聊天用户
type User struct {
	ID        int64
	ChatID    string
	Username  string
	Active    bool
	CreatedAt time.Time
}
