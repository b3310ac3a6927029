package service

import (
	"context"
	"errors"
	"fmt"

	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoPrice 该符号尚未收到任何价格（不在订阅列表或 feed 还没推送）
	ErrNoPrice       = errors.New("no price data for symbol")
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// PriceLookup 命令层读取最新价格
type PriceLookup interface {
	LastPrice(symbol string) (model.PriceUpdate, bool)
}

// AlertService 用户命令层：先写存储，再改引擎索引，两步在引擎 actor 上一起完成
type AlertService struct {
	repo   port.AlertRepository
	engine *AlertEngine
	prices PriceLookup
}

func NewAlertService(repo port.AlertRepository, engine *AlertEngine, prices PriceLookup) *AlertService {
	return &AlertService{repo: repo, engine: engine, prices: prices}
}

func (s *AlertService) EnsureUser(ctx context.Context, chatID, username string) (*model.User, error) {
	if chatID == "" {
		return nil, errors.New("chat id required")
	}
	return s.repo.FindOrCreateUser(ctx, chatID, username)
}

// Create 以当前价格为锚点创建 movement alert
func (s *AlertService) Create(ctx context.Context, chatID, username, rawSymbol, rawAmount string) (*model.Alert, error) {
	symbol := model.NormalizeSymbol(rawSymbol)
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}
	last, ok := s.prices.LastPrice(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	amount, err := model.ParseMoveAmount(rawAmount)
	if err != nil {
		return nil, err
	}
	user, err := s.EnsureUser(ctx, chatID, username)
	if err != nil {
		return nil, err
	}

	payload := model.MovementPayload{Symbol: symbol, MoveAmount: amount, AnchorPrice: last.Price}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	var created *model.Alert
	err = s.engine.Apply(ctx, func(ctx context.Context, ix *AlertIndex) error {
		a, err := s.repo.CreateAlert(ctx, user.ID, payload)
		if err != nil {
			return fmt.Errorf("create alert: %w", err)
		}
		a.ChatID = user.ChatID
		s.appendEvent(ctx, model.NewEvent(a, model.EventCreated, model.EventSnapshot{}))
		ix.Register(a)
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("alert_id", created.ID).Str("chat_id", chatID).
		Str("symbol", symbol).Str("move", amount.String()).Str("anchor", last.Price.String()).
		Msg("alert created")
	return created, nil
}

// EditResult Edit 的前后对比
type EditResult struct {
	Alert    *model.Alert
	Previous model.MovementPayload
}

// Edit 修改移动阈值并以当前价格重新锚定
func (s *AlertService) Edit(ctx context.Context, chatID, username string, alertID int64, rawAmount string) (*EditResult, error) {
	user, err := s.EnsureUser(ctx, chatID, username)
	if err != nil {
		return nil, err
	}
	amount, err := model.ParseMoveAmount(rawAmount)
	if err != nil {
		return nil, err
	}

	var res *EditResult
	err = s.engine.Apply(ctx, func(ctx context.Context, ix *AlertIndex) error {
		a, err := s.ownedActive(ctx, user, alertID)
		if err != nil {
			return err
		}
		last, ok := s.prices.LastPrice(a.Payload.Symbol)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoPrice, a.Payload.Symbol)
		}

		prev := a.Payload
		next := model.MovementPayload{Symbol: prev.Symbol, MoveAmount: amount, AnchorPrice: last.Price}

		updated := a.Clone()
		updated.Payload = next
		s.appendEvent(ctx, model.NewEvent(updated, model.EventEdited, model.EventSnapshot{
			Previous: &model.PreviousValues{MoveAmount: prev.MoveAmount, AnchorPrice: prev.AnchorPrice},
		}))

		if err := s.repo.UpdatePayload(ctx, alertID, next); err != nil {
			return fmt.Errorf("update alert: %w", err)
		}
		if !ix.Update(alertID, next) {
			ix.Register(updated)
		}
		res = &EditResult{Alert: updated, Previous: prev}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("alert_id", alertID).Str("chat_id", chatID).
		Str("move", amount.String()).Str("anchor", res.Alert.Payload.AnchorPrice.String()).
		Msg("alert edited")
	return res, nil
}

// Drop 停用单个 alert
func (s *AlertService) Drop(ctx context.Context, chatID, username string, alertID int64) (*model.Alert, error) {
	user, err := s.EnsureUser(ctx, chatID, username)
	if err != nil {
		return nil, err
	}

	var dropped *model.Alert
	err = s.engine.Apply(ctx, func(ctx context.Context, ix *AlertIndex) error {
		a, err := s.ownedActive(ctx, user, alertID)
		if err != nil {
			return err
		}
		if err := s.repo.Deactivate(ctx, alertID); err != nil {
			return fmt.Errorf("deactivate alert: %w", err)
		}
		a.Active = false
		s.appendEvent(ctx, model.NewEvent(a, model.EventDropped, model.EventSnapshot{}))
		ix.Unregister(alertID)
		dropped = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("alert_id", alertID).Str("chat_id", chatID).Msg("alert dropped")
	return dropped, nil
}

// DropAll 停用该用户所有活跃 alert，返回被停用的列表
func (s *AlertService) DropAll(ctx context.Context, chatID, username string) ([]*model.Alert, error) {
	user, err := s.EnsureUser(ctx, chatID, username)
	if err != nil {
		return nil, err
	}

	var dropped []*model.Alert
	err = s.engine.Apply(ctx, func(ctx context.Context, ix *AlertIndex) error {
		list, err := s.repo.DeactivateAllForUser(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("deactivate alerts: %w", err)
		}
		for _, a := range list {
			s.appendEvent(ctx, model.NewEvent(a, model.EventDropped, model.EventSnapshot{}))
			ix.Unregister(a.ID)
		}
		dropped = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("chat_id", chatID).Int("count", len(dropped)).Msg("alerts dropped")
	return dropped, nil
}

func (s *AlertService) List(ctx context.Context, chatID, username string) ([]*model.Alert, error) {
	user, err := s.EnsureUser(ctx, chatID, username)
	if err != nil {
		return nil, err
	}
	return s.repo.ListActiveByUser(ctx, user.ID)
}

func (s *AlertService) ActiveCount(ctx context.Context) (int, error) {
	return s.repo.CountActive(ctx)
}

// History alert 的审计事件（按时间升序）
func (s *AlertService) History(ctx context.Context, alertID int64) ([]*model.AlertEvent, error) {
	return s.repo.ListEvents(ctx, alertID)
}

// ownedActive 不属于该用户或已停用统一视为不存在
func (s *AlertService) ownedActive(ctx context.Context, user *model.User, alertID int64) (*model.Alert, error) {
	a, err := s.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.UserID != user.ID || !a.Active {
		return nil, model.ErrAlertNotFound
	}
	if a.ChatID == "" {
		a.ChatID = user.ChatID
	}
	return a, nil
}

// appendEvent 审计失败不影响命令结果
func (s *AlertService) appendEvent(ctx context.Context, ev *model.AlertEvent) {
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		log.Error().Err(err).Int64("alert_id", ev.AlertID).Str("kind", string(ev.Kind)).Msg("append event failed")
	}
}
