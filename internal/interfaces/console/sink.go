package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"pricealert/internal/application/port"
)

// Sender dry-run：Telegram 未启用时把通知打印到终端
type Sender struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

var _ port.Sender = (*Sender)(nil)

func NewSender(out io.Writer) *Sender {
	if out == nil {
		out = os.Stdout
	}
	return &Sender{out: out, now: time.Now}
}

func (s *Sender) Send(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s [chat %s]\n%s\n\n", s.now().Format("2006-01-02 15:04:05"), chatID, text)
	return err
}
