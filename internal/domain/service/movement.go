package service

import (
	"pricealert/internal/domain/model"

	"github.com/shopspring/decimal"
)

// MovementResult 一次穿越的判定结果
type MovementResult struct {
	Direction    model.Direction
	TriggerPrice decimal.Decimal
	Distance     decimal.Decimal // signed: price - anchor
}

// EvaluateMovement |price - anchor| >= moveAmount 时触发，方向由有符号距离决定
// 未触发返回 ok=false
func EvaluateMovement(p model.MovementPayload, price decimal.Decimal) (MovementResult, bool) {
	distance := price.Sub(p.AnchorPrice)
	if distance.Abs().LessThan(p.MoveAmount) {
		return MovementResult{}, false
	}
	dir := model.DirectionDown
	if distance.IsPositive() {
		dir = model.DirectionUp
	}
	return MovementResult{Direction: dir, TriggerPrice: price, Distance: distance}, true
}
