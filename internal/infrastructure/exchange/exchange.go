package exchange

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"pricealert/internal/domain/model"

	"github.com/shopspring/decimal"
)

var ErrEmptyPrice = errors.New("empty price")

// ParseUpdate 校验并构造一条价格更新；价格必须为正
func ParseUpdate(source, symbol, rawPrice string, now time.Time) (model.PriceUpdate, error) {
	rawPrice = strings.TrimSpace(rawPrice)
	if symbol == "" || rawPrice == "" {
		return model.PriceUpdate{}, ErrEmptyPrice
	}
	px, err := decimal.NewFromString(rawPrice)
	if err != nil {
		return model.PriceUpdate{}, fmt.Errorf("parse price %q: %w", rawPrice, err)
	}
	if !px.IsPositive() {
		return model.PriceUpdate{}, fmt.Errorf("non-positive price %q for %s", rawPrice, symbol)
	}
	return model.PriceUpdate{
		Symbol:    symbol,
		Price:     px,
		Source:    source,
		Timestamp: now,
	}, nil
}

// BuildQueryURL builds a URL with query parameters
func BuildQueryURL(base, path, query string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("base url is empty")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = path
	u.RawQuery = query
	return u.String(), nil
}
