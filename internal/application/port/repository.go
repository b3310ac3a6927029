package port

import (
	"context"

	"pricealert/internal/domain/model"
)

// AlertStore Alert Engine 依赖的最小持久化接口
type AlertStore interface {
	LoadActive(ctx context.Context) ([]*model.Alert, error)
	// UpdatePayload 不存在或已失效时返回 model.ErrAlertNotFound
	UpdatePayload(ctx context.Context, alertID int64, payload model.MovementPayload) error
	AppendEvent(ctx context.Context, ev *model.AlertEvent) error
}

// AlertRepository 命令层使用的完整仓储
type AlertRepository interface {
	AlertStore

	// Users
	FindOrCreateUser(ctx context.Context, chatID, username string) (*model.User, error)

	// Alerts
	CreateAlert(ctx context.Context, userID int64, payload model.MovementPayload) (*model.Alert, error)
	GetAlert(ctx context.Context, alertID int64) (*model.Alert, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]*model.Alert, error)
	Deactivate(ctx context.Context, alertID int64) error
	DeactivateAllForUser(ctx context.Context, userID int64) ([]*model.Alert, error)
	CountActive(ctx context.Context) (int, error)

	// Events
	ListEvents(ctx context.Context, alertID int64) ([]*model.AlertEvent, error)

	// Connection management
	Close() error
}

// TriggerSink 触发事件的外部广播（可选，best-effort）
type TriggerSink interface {
	PublishTrigger(ctx context.Context, ev *model.AlertEvent) error
}
