package bybit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"
	"pricealert/internal/infrastructure/exchange"
	"pricealert/internal/infrastructure/pricefeed"
	feedws "pricealert/internal/infrastructure/websocket"

	"github.com/gorilla/websocket"
)

// DefaultKeepalive Bybit 要求每 20 秒发送一次 {"op":"ping"}
const DefaultKeepalive = 20 * time.Second

const topicPrefix = "tickers."

// DefaultSymbolMap Bybit linear 上拼写不同的合约
var DefaultSymbolMap = map[string]string{
	"PEPEUSDT": "1000PEPEUSDT",
}

// TickerProtocol Bybit v5 public linear tickers
type TickerProtocol struct {
	wsURL     string // e.g. wss://stream.bybit.com/v5/public/linear
	symbols   []string
	symbolMap *exchange.SymbolMap
	keepalive time.Duration
}

// NewTickerProtocol symbolMap 为空时使用 DefaultSymbolMap
func NewTickerProtocol(wsURL string, symbols []string, symbolMap map[string]string, keepalive time.Duration) *TickerProtocol {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	if len(symbolMap) == 0 {
		symbolMap = DefaultSymbolMap
	}
	return &TickerProtocol{
		wsURL:     strings.TrimSpace(wsURL),
		symbols:   symbols,
		symbolMap: exchange.NewSymbolMap(symbolMap),
		keepalive: keepalive,
	}
}

// NewLinearTickerFeed 创建带自动重连的 Bybit 价格源
func NewLinearTickerFeed(cfg pricefeed.Config) *feedws.Connector {
	proto := NewTickerProtocol(cfg.WsURL, cfg.Symbols, cfg.SymbolMap, cfg.Keepalive)
	return feedws.NewConnector(proto, cfg.Retry)
}

func (p *TickerProtocol) Name() string { return model.SourceBybit }

type bybitReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type bybitTickerItem struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

// BybitDataList data can be object OR array
type BybitDataList []bybitTickerItem

func (d *BybitDataList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []bybitTickerItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = arr
		return nil
	case '{':
		var one bybitTickerItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = BybitDataList{one}
		return nil
	default:
		return fmt.Errorf("unexpected data json: %s", string(b))
	}
}

type bybitTickerMsg struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"`
	Ts    int64         `json:"ts"`
	Data  BybitDataList `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

func (p *TickerProtocol) URL() (string, error) {
	if p.wsURL == "" {
		return "", errors.New("bybit ws_url empty")
	}
	if len(p.symbols) == 0 {
		return "", errors.New("no valid symbols for bybit topics")
	}
	return p.wsURL, nil
}

// OnOpen 每个符号单独订阅，避免一个无效符号导致整批失败
func (p *TickerProtocol) OnOpen(conn *websocket.Conn) error {
	for _, sym := range p.symbolMap.NativeList(p.symbols) {
		if err := feedws.WriteJSON(conn, bybitReq{Op: "subscribe", Args: []string{topicPrefix + sym}}); err != nil {
			return err
		}
	}
	return nil
}

func (p *TickerProtocol) KeepaliveInterval() time.Duration { return p.keepalive }

func (p *TickerProtocol) Ping(conn *websocket.Conn) error {
	return feedws.WriteJSON(conn, bybitReq{Op: "ping"})
}

func (p *TickerProtocol) Decode(b []byte, now time.Time) ([]model.PriceUpdate, error) {
	var msg bybitTickerMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	// ack / pong
	if msg.Op != "" || msg.Success != nil {
		if msg.Op == "subscribe" && msg.Success != nil && !*msg.Success {
			return nil, fmt.Errorf("%w: %s", port.ErrSubscriptionFailed, msg.RetMsg)
		}
		return nil, nil
	}

	if !strings.HasPrefix(msg.Topic, topicPrefix) || len(msg.Data) == 0 {
		return nil, nil
	}

	// delta 只在最新成交价变化时携带 lastPrice
	out := make([]model.PriceUpdate, 0, len(msg.Data))
	for _, d := range msg.Data {
		if strings.TrimSpace(d.LastPrice) == "" {
			continue
		}
		sym := p.symbolMap.ToCanonical(d.Symbol)
		u, err := exchange.ParseUpdate(p.Name(), sym, d.LastPrice, now)
		if err != nil {
			return nil, fmt.Errorf("topic %s: %w", msg.Topic, err)
		}
		out = append(out, u)
	}
	return out, nil
}
