package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind 审计事件类型
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventEdited    EventKind = "edited"
	EventDropped   EventKind = "dropped"
	EventTriggered EventKind = "triggered"
)

// AlertSnapshot 事件发生时 alert 的状态
type AlertSnapshot struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Symbol      string          `json:"symbol"`
	MoveAmount  decimal.Decimal `json:"moveAmount"`
	AnchorPrice decimal.Decimal `json:"anchorPrice"`
}

// PreviousValues edited 事件中修改前的值
type PreviousValues struct {
	MoveAmount  decimal.Decimal `json:"moveAmount"`
	AnchorPrice decimal.Decimal `json:"anchorPrice"`
}

// EventSnapshot 以 JSON 持久化，只写一次
type EventSnapshot struct {
	Alert     AlertSnapshot    `json:"alert"`
	Previous  *PreviousValues  `json:"previous,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Direction Direction        `json:"direction,omitempty"`
	Source    string           `json:"source,omitempty"`
}

// AlertEvent append-only 审计记录
type AlertEvent struct {
	ID        int64
	AlertID   int64
	UserID    int64
	Kind      EventKind
	Snapshot  EventSnapshot
	CreatedAt time.Time
}

// SnapshotOf 按 alert 当前 payload 生成快照
func SnapshotOf(a *Alert) AlertSnapshot {
	return AlertSnapshot{
		ID:          a.ID,
		Type:        a.Type,
		Symbol:      a.Payload.Symbol,
		MoveAmount:  a.Payload.MoveAmount,
		AnchorPrice: a.Payload.AnchorPrice,
	}
}

// NewEvent 构造事件，CreatedAt 由存储层写入
func NewEvent(a *Alert, kind EventKind, snap EventSnapshot) *AlertEvent {
	snap.Alert = SnapshotOf(a)
	return &AlertEvent{
		AlertID:  a.ID,
		UserID:   a.UserID,
		Kind:     kind,
		Snapshot: snap,
	}
}
