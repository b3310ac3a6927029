package model

// Direction 价格穿越方向
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Label 通知文案使用的大写形式
func (d Direction) Label() string {
	if d == DirectionUp {
		return "UP"
	}
	return "DOWN"
}
