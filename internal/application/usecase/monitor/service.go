package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultRefSymbol = "BTCUSDT"

type ServiceDeps struct {
	Feeds        []PriceFeed
	Prices       PriceReader
	ActiveAlerts func() int
	QueueDepth   func() int
	// PrintEveryMin <= 0 时不做周期输出，只能通过 Snapshot 查询
	PrintEveryMin int
	RefSymbol     string
	StartedAt     time.Time
	Formatter     *Formatter
}

// Service 周期性输出系统状态：feed 健康、参考价格、活跃 alert 数、通知队列
type Service struct {
	deps ServiceDeps
	fmt  *Formatter
	now  func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	if deps.RefSymbol == "" {
		deps.RefSymbol = DefaultRefSymbol
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	f := deps.Formatter
	if f == nil {
		f = NewFormatter(false)
	}
	return &Service{deps: deps, fmt: f, now: time.Now}
}

// Snapshot 当前状态
func (s *Service) Snapshot() Status {
	now := s.now()
	st := Status{
		Now:       now,
		Uptime:    now.Sub(s.deps.StartedAt),
		RefSymbol: s.deps.RefSymbol,
	}
	for _, f := range s.deps.Feeds {
		st.Feeds = append(st.Feeds, FeedStatus{Name: f.Name(), Health: f.Health()})
		if s.deps.Prices != nil {
			if u, ok := s.deps.Prices.LastPriceBySource(s.deps.RefSymbol, f.Name()); ok {
				st.RefPrices = append(st.RefPrices, SourcePrice{Source: f.Name(), Price: u})
			}
		}
	}
	if s.deps.ActiveAlerts != nil {
		st.ActiveAlerts = s.deps.ActiveAlerts()
	}
	if s.deps.QueueDepth != nil {
		st.QueueDepth = s.deps.QueueDepth()
	}
	return st
}

// Render 当前状态的文本
func (s *Service) Render() string {
	return s.fmt.Render(s.Snapshot())
}

// Run 阻塞直到 ctx 结束
func (s *Service) Run(ctx context.Context) error {
	if s.deps.PrintEveryMin <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(time.Duration(s.deps.PrintEveryMin) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.logStatus()
		}
	}
}

func (s *Service) logStatus() {
	st := s.Snapshot()
	ev := log.Info().
		Str("uptime", FormatUptime(st.Uptime)).
		Int("active_alerts", st.ActiveAlerts).
		Int("queue_depth", st.QueueDepth)
	for _, f := range st.Feeds {
		ev = ev.Bool(f.Name+"_connected", f.Health.Connected).
			Int64(f.Name+"_reconnects", f.Health.ReconnectCount)
	}
	for _, p := range st.RefPrices {
		ev = ev.Str(p.Source+"_"+st.RefSymbol, p.Price.Price.String())
	}
	ev.Msg("status")
}
