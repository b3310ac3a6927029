package model

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

var quoteCurrencies = []string{"USDT", "USDC", "BTC", "ETH", "EUR", "BNB"}

// NormalizeSymbol 将用户输入转换为 canonical 交易对
// 例: "eth" -> "ETHUSDT", "btcusdc" -> "BTCUSDC"
func NormalizeSymbol(input string) string {
	upper := strings.ToUpper(strings.TrimSpace(input))
	if upper == "" {
		return ""
	}
	for _, q := range quoteCurrencies {
		// "ETH" 本身是 base，只有前面还有 base 时才算带报价币
		if len(upper) > len(q) && strings.HasSuffix(upper, q) {
			return upper
		}
	}
	return upper + "USDT"
}

// ParseMoveAmount 解析移动阈值：必须为正数，最多 5 位小数
func ParseMoveAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if _, frac, ok := strings.Cut(raw, "."); ok && len(frac) > MaxAmountDecimals {
		return decimal.Zero, ErrTooManyDecimals
	}
	return amount, nil
}

// FormatPrice >= 1 保留 2 位小数并带千分位，< 1 保留 5 位小数
func FormatPrice(price decimal.Decimal) string {
	f := price.InexactFloat64()
	if price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return humanize.FormatFloat("#,###.##", f)
	}
	return humanize.FormatFloat("#,###.#####", f)
}
