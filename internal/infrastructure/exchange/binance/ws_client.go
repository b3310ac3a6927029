package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pricealert/internal/domain/model"
	"pricealert/internal/infrastructure/exchange"
	"pricealert/internal/infrastructure/pricefeed"
	feedws "pricealert/internal/infrastructure/websocket"

	"github.com/gorilla/websocket"
)

// DefaultKeepalive Binance 服务端会主动 ping，这里额外发送控制帧保持连接
const DefaultKeepalive = 25 * time.Second

// TickerProtocol Binance USDT-M Futures combined miniTicker stream
type TickerProtocol struct {
	wsURL     string // e.g. wss://fstream.binance.com
	symbols   []string
	symbolMap *exchange.SymbolMap
	keepalive time.Duration
}

// NewTickerProtocol symbols 为 canonical watch-list
func NewTickerProtocol(wsURL string, symbols []string, symbolMap map[string]string, keepalive time.Duration) *TickerProtocol {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &TickerProtocol{
		wsURL:     strings.TrimSpace(wsURL),
		symbols:   symbols,
		symbolMap: exchange.NewSymbolMap(symbolMap),
		keepalive: keepalive,
	}
}

// NewFuturesMiniTickerFeed 创建带自动重连的 Binance 价格源
func NewFuturesMiniTickerFeed(cfg pricefeed.Config) *feedws.Connector {
	proto := NewTickerProtocol(cfg.WsURL, cfg.Symbols, cfg.SymbolMap, cfg.Keepalive)
	return feedws.NewConnector(proto, cfg.Retry)
}

func (p *TickerProtocol) Name() string { return model.SourceBinance }

type binanceCombined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceMiniMsg struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

func (p *TickerProtocol) URL() (string, error) {
	return buildCombinedURL(p.wsURL, p.symbolMap.NativeList(p.symbols))
}

func buildCombinedURL(base string, symbols []string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("binance ws_url empty")
	}
	if len(symbols) == 0 {
		return "", errors.New("symbols empty")
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s@miniTicker", s))
	}
	if len(streams) == 0 {
		return "", errors.New("no valid symbols")
	}

	return exchange.BuildQueryURL(base, "/stream", "streams="+strings.Join(streams, "/"))
}

// OnOpen combined stream 通过 URL 订阅，无需发送订阅帧
func (p *TickerProtocol) OnOpen(conn *websocket.Conn) error { return nil }

func (p *TickerProtocol) KeepaliveInterval() time.Duration { return p.keepalive }

func (p *TickerProtocol) Ping(conn *websocket.Conn) error { return feedws.WritePing(conn) }

func (p *TickerProtocol) Decode(b []byte, now time.Time) ([]model.PriceUpdate, error) {
	var msg binanceCombined
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	// 非数据帧（例如 {"result":null,"id":1}）
	if msg.Stream == "" || len(msg.Data) == 0 {
		return nil, nil
	}

	var t binanceMiniMsg
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		return nil, fmt.Errorf("json unmarshal data: %w", err)
	}
	sym := p.symbolMap.ToCanonical(t.Symbol)
	u, err := exchange.ParseUpdate(p.Name(), sym, t.Close, now)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", msg.Stream, err)
	}
	return []model.PriceUpdate{u}, nil
}
