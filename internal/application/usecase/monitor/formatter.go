package monitor

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"pricealert/internal/domain/model"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

func colorize(s, c string, on bool) string {
	if !on {
		return s
	}
	return c + s + ansiReset
}

type Formatter struct {
	// Color 是否输出 ANSI 颜色（终端输出时打开）
	Color bool
}

func NewFormatter(color bool) *Formatter {
	return &Formatter{Color: color}
}

// Render 多行状态文本
func (f *Formatter) Render(st Status) string {
	var sb strings.Builder
	sb.WriteString("System Status\n\n")
	fmt.Fprintf(&sb, "Uptime: %s\n\n", FormatUptime(st.Uptime))

	for _, fs := range st.Feeds {
		sb.WriteString(f.feedLine(fs, st.Now))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(f.refLine(st))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Active alerts: %d\n", st.ActiveAlerts)
	fmt.Fprintf(&sb, "Queued notifications: %d\n", st.QueueDepth)
	return sb.String()
}

func (f *Formatter) feedLine(fs FeedStatus, now time.Time) string {
	h := fs.Health
	icon, status, col := "x", "disconnected", ansiRed
	switch {
	case h.Connected:
		icon, status, col = "+", "connected", ansiGreen
	case h.Down:
		status = "down"
	case h.ReconnectCount > 0:
		col = ansiYellow
	}

	line := fmt.Sprintf("[%s] %s: %s", icon, displayName(fs.Name), colorize(status, col, f.Color))

	var extra []string
	if h.HasMessage() {
		extra = append(extra, "last msg: "+FormatAge(now.Sub(h.LastMessageAt)))
	}
	if h.ReconnectCount > 0 {
		extra = append(extra, fmt.Sprintf("reconnects: %d", h.ReconnectCount))
	}
	if len(extra) > 0 {
		line += " (" + strings.Join(extra, ", ") + ")"
	}
	return line
}

func (f *Formatter) refLine(st Status) string {
	label := strings.TrimSuffix(st.RefSymbol, "USDT")
	if len(st.RefPrices) == 0 {
		return label + ": waiting for data..."
	}
	parts := make([]string, 0, len(st.RefPrices))
	for _, sp := range st.RefPrices {
		parts = append(parts, fmt.Sprintf("$%s (%s)", model.FormatPrice(sp.Price.Price), displayName(sp.Source)))
	}
	return label + ": " + strings.Join(parts, " / ")
}

// FormatAge 距今时长
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d/time.Second))
	default:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	}
}

// FormatUptime 超过 1 小时显示 "1h 2m"，否则 "2m 3s"
func FormatUptime(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

func displayName(source string) string {
	if source == "" {
		return source
	}
	r := []rune(source)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
