package service

import (
	"sort"
	"strings"
	"sync"

	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"
	"pricealert/internal/infrastructure/metrics"
)

// MaxSearchResults SearchSymbols 返回的最大条数
const MaxSearchResults = 20

// SymbolMatch 符号搜索结果，Sources 为报告过该符号的 feed（已排序）
type SymbolMatch struct {
	Symbol  string
	Sources []string
}

type sourceKey struct {
	symbol string
	source string
}

// PriceBus 进程内的价格分发与缓存，不持久化，重启后由 feed 流量重建
type PriceBus struct {
	// pubMu 串行化 Publish：缓存写入与 handler 分发作为一个整体，两个 feed 不会交错
	pubMu sync.Mutex

	mu       sync.RWMutex
	handlers []port.PriceHandler
	last     map[string]model.PriceUpdate
	bySource map[sourceKey]model.PriceUpdate
	sources  map[string]map[string]struct{}
}

func NewPriceBus() *PriceBus {
	return &PriceBus{
		last:     make(map[string]model.PriceUpdate),
		bySource: make(map[sourceKey]model.PriceUpdate),
		sources:  make(map[string]map[string]struct{}),
	}
}

// Publish 先更新两级缓存，再按订阅顺序同步调用所有 handler
// handler 内不能再调用 Publish
func (b *PriceBus) Publish(u model.PriceUpdate) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.Lock()
	b.last[u.Symbol] = u
	b.bySource[sourceKey{u.Symbol, u.Source}] = u
	set := b.sources[u.Symbol]
	if set == nil {
		set = make(map[string]struct{}, 2)
		b.sources[u.Symbol] = set
	}
	set[u.Source] = struct{}{}
	handlers := b.handlers
	b.mu.Unlock()

	metrics.PricesPublishedTotal.WithLabelValues(u.Source).Inc()

	for _, h := range handlers {
		h(u)
	}
}

// Subscribe handler 必须快速返回，慢操作需自行转交
func (b *PriceBus) Subscribe(h port.PriceHandler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// copy-on-write，正在进行的 Publish 持有旧切片
	hs := make([]port.PriceHandler, len(b.handlers), len(b.handlers)+1)
	copy(hs, b.handlers)
	b.handlers = append(hs, h)
}

// LastPrice 最近一次任意来源的价格（last-write-wins）
func (b *PriceBus) LastPrice(symbol string) (model.PriceUpdate, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.last[symbol]
	return u, ok
}

// LastPriceBySource 某个来源最近一次的价格
func (b *PriceBus) LastPriceBySource(symbol, source string) (model.PriceUpdate, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.bySource[sourceKey{symbol, source}]
	return u, ok
}

// KnownSymbols 见过的所有符号（已排序）
func (b *PriceBus) KnownSymbols() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.sources))
	for sym := range b.sources {
		out = append(out, sym)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// SearchSymbols 大小写不敏感的子串匹配，按符号字典序，最多 MaxSearchResults 条
func (b *PriceBus) SearchSymbols(query string) []SymbolMatch {
	q := strings.ToUpper(strings.TrimSpace(query))

	b.mu.RLock()
	matches := make([]SymbolMatch, 0)
	for sym, set := range b.sources {
		if !strings.Contains(strings.ToUpper(sym), q) {
			continue
		}
		srcs := make([]string, 0, len(set))
		for s := range set {
			srcs = append(srcs, s)
		}
		sort.Strings(srcs)
		matches = append(matches, SymbolMatch{Symbol: sym, Sources: srcs})
	}
	b.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Symbol < matches[j].Symbol })
	if len(matches) > MaxSearchResults {
		matches = matches[:MaxSearchResults]
	}
	return matches
}
