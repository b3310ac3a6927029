package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pricealert/internal/application/port"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// messageAPI *tgbotapi.BotAPI 的发送部分（测试可替换）
type messageAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender Telegram Bot API 消息发送
type Sender struct {
	api messageAPI
}

var _ port.Sender = (*Sender)(nil)

func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

func NewSender(api messageAPI) *Sender {
	return &Sender{api: api}
}

// Send 429 转换为 *port.RateLimitedError，RetryAfter 取自响应的 retry_after
func (s *Sender) Send(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return classify(err)
	}
	log.Debug().Str("chat_id", chatID).Msg("telegram message sent")
	return nil
}

func classify(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code == http.StatusTooManyRequests {
		return &port.RateLimitedError{RetryAfter: time.Duration(tgErr.RetryAfter) * time.Second}
	}
	return fmt.Errorf("telegram send: %w", err)
}
