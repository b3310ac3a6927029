package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pricealert/internal/domain/model"

	gws "github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProto struct {
	url       string
	keepalive time.Duration
	pings     atomic.Int64
}

func (p *testProto) Name() string                     { return "test" }
func (p *testProto) URL() (string, error)             { return p.url, nil }
func (p *testProto) OnOpen(conn *gws.Conn) error      { return nil }
func (p *testProto) KeepaliveInterval() time.Duration { return p.keepalive }

func (p *testProto) Ping(conn *gws.Conn) error {
	p.pings.Add(1)
	return WritePing(conn)
}

func (p *testProto) Decode(b []byte, now time.Time) ([]model.PriceUpdate, error) {
	var m struct {
		S string `json:"s"`
		P string `json:"p"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m.S == "" {
		return nil, errors.New("no symbol")
	}
	px, err := decimal.NewFromString(m.P)
	if err != nil {
		return nil, err
	}
	return []model.PriceUpdate{{Symbol: m.S, Price: px, Source: "test", Timestamp: now}}, nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// 每个连接先发一条坏消息、一条价格，然后断开
func newFlakyServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var conns atomic.Int64
	upgrader := gws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)
		_ = conn.WriteMessage(gws.TextMessage, []byte(`garbage`))
		_ = conn.WriteMessage(gws.TextMessage, []byte(fmt.Sprintf(`{"s":"BTCUSDT","p":"%d"}`, 100+n)))
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func TestConnectorDecodesAndReconnects(t *testing.T) {
	srv, _ := newFlakyServer(t)

	c := NewConnector(&testProto{url: wsURL(srv)}, RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond})
	got := make(chan model.PriceUpdate, 64)
	c.Start(context.Background(), func(u model.PriceUpdate) {
		select {
		case got <- u:
		default:
		}
	})
	defer c.Stop()

	var updates []model.PriceUpdate
	timeout := time.After(5 * time.Second)
	for len(updates) < 2 {
		select {
		case u := <-got:
			updates = append(updates, u)
		case <-timeout:
			t.Fatalf("expected 2 updates, got %d", len(updates))
		}
	}

	assert.Equal(t, "BTCUSDT", updates[0].Symbol)
	assert.Equal(t, "test", updates[0].Source)
	// malformed frames are skipped, never emitted
	for _, u := range updates {
		assert.True(t, u.Price.IsPositive())
	}

	require.Eventually(t, func() bool {
		return c.Health().ReconnectCount >= 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, c.Health().HasMessage())
}

func TestConnectorKeepalive(t *testing.T) {
	var firstPings atomic.Int64
	var conns atomic.Int64
	upgrader := gws.Upgrader{}
	// 只回 pong，不发数据；第一个连接收到 3 个 ping 后断开
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		first := conns.Add(1) == 1
		conn.SetPingHandler(func(data string) error {
			if err := conn.WriteControl(gws.PongMessage, []byte(data), time.Now().Add(time.Second)); err != nil {
				return err
			}
			if first && firstPings.Add(1) >= 3 {
				return errors.New("enough pings")
			}
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	proto := &testProto{url: wsURL(srv), keepalive: 20 * time.Millisecond}
	c := NewConnector(proto, RetryConfig{BaseDelay: 20 * time.Millisecond, MaxDelay: 50 * time.Millisecond})
	c.Start(context.Background(), func(model.PriceUpdate) {})

	require.Eventually(t, func() bool {
		return firstPings.Load() >= 3 && c.Health().ReconnectCount >= 1
	}, 5*time.Second, 5*time.Millisecond)

	// 服务端从不发数据帧，LastMessageAt 只可能来自 pong
	h := c.Health()
	assert.True(t, h.HasMessage())
	assert.WithinDuration(t, time.Now(), h.LastMessageAt, 5*time.Second)

	// 断线后的新连接继续心跳
	require.Eventually(t, func() bool { return conns.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)

	c.Stop()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connector did not exit after Stop")
	}
	sent := proto.pings.Load()
	assert.GreaterOrEqual(t, sent, int64(3))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, sent, proto.pings.Load(), "keepalive must stop with the connection")
}

func TestConnectorBacksOffWhenConnectionDropsImmediately(t *testing.T) {
	srv, conns := newFlakyServer(t)

	c := NewConnector(&testProto{url: wsURL(srv)}, RetryConfig{BaseDelay: 400 * time.Millisecond, MaxDelay: time.Second})
	c.jitter = func() float64 { return 0 } // first backoff = 200ms
	c.Start(context.Background(), func(model.PriceUpdate) {})
	defer c.Stop()

	require.Eventually(t, func() bool {
		return c.Health().ReconnectCount >= 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), c.Health().ReconnectCount)
	assert.Equal(t, int64(1), conns.Load())

	require.Eventually(t, func() bool {
		return c.Health().ReconnectCount >= 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestConnectorStopDuringBackoff(t *testing.T) {
	// 关闭的服务器：每次 dial 都失败
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := NewConnector(&testProto{url: url}, RetryConfig{BaseDelay: time.Hour, MaxDelay: time.Hour})
	c.jitter = func() float64 { return 0 }
	c.Start(context.Background(), func(model.PriceUpdate) {})

	time.Sleep(100 * time.Millisecond)
	c.Stop()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connector did not exit after Stop")
	}
	h := c.Health()
	assert.False(t, h.Connected)
	assert.Zero(t, h.ReconnectCount)

	// idempotent
	c.Stop()
}

func TestConnectorGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := NewConnector(&testProto{url: url}, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	c.Start(context.Background(), func(model.PriceUpdate) {})

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connector did not give up")
	}
	assert.True(t, c.Health().Down)
}

func TestConnectorStopBeforeStart(t *testing.T) {
	c := NewConnector(&testProto{url: "ws://127.0.0.1:1"}, DefaultRetryConfig)
	c.Stop()
	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
	// Start after Stop is a no-op
	c.Start(context.Background(), func(model.PriceUpdate) {})
}
