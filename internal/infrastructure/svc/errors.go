package svc

import "errors"

// ErrNoFeedsEnabled 错误：没有启用任何价格源
var ErrNoFeedsEnabled = errors.New("no exchange feeds enabled")

// ErrUnknownFeed 错误：配置了未注册的交易所
var ErrUnknownFeed = errors.New("unknown exchange feed")
