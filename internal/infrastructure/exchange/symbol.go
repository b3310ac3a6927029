package exchange

import (
	"strings"
)

// SymbolMap canonical <-> 交易所原生符号的静态双向映射
// 只有拼写不同的符号需要登记，其余原样透传
// 例: bybit PEPEUSDT <-> 1000PEPEUSDT
type SymbolMap struct {
	toNative    map[string]string
	toCanonical map[string]string
}

// NewSymbolMap canonicalToNative 的 key/value 都会被转为大写
func NewSymbolMap(canonicalToNative map[string]string) *SymbolMap {
	m := &SymbolMap{
		toNative:    make(map[string]string, len(canonicalToNative)),
		toCanonical: make(map[string]string, len(canonicalToNative)),
	}
	for c, n := range canonicalToNative {
		c = normalize(c)
		n = normalize(n)
		if c == "" || n == "" {
			continue
		}
		m.toNative[c] = n
		m.toCanonical[n] = c
	}
	return m
}

// ToNative canonical -> 交易所符号
func (m *SymbolMap) ToNative(canonical string) string {
	s := normalize(canonical)
	if m == nil {
		return s
	}
	if n, ok := m.toNative[s]; ok {
		return n
	}
	return s
}

// ToCanonical 交易所符号 -> canonical
func (m *SymbolMap) ToCanonical(native string) string {
	s := normalize(native)
	if m == nil {
		return s
	}
	if c, ok := m.toCanonical[s]; ok {
		return c
	}
	return s
}

// NativeList 批量转换 watch-list，跳过空值
func (m *SymbolMap) NativeList(canonical []string) []string {
	out := make([]string, 0, len(canonical))
	for _, s := range canonical {
		if n := m.ToNative(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
